package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensholdgaard/bazaar/internal/metrics"
)

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	m := metrics.NewHTTP()

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/listings/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	for _, path := range []string{"/listings/1", "/listings/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP bazaar_http_requests_total HTTP requests by route, method and status code
# TYPE bazaar_http_requests_total counter
bazaar_http_requests_total{code="404",method="GET",route="/listings/{id}"} 2
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "bazaar_http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "bazaar_http_request_duration_seconds"))
}

func TestRateLimited(t *testing.T) {
	m := metrics.NewHTTP()
	m.RateLimited("bid")
	m.RateLimited("bid")
	m.RateLimited("buy")

	expected := `
# HELP bazaar_rate_limited_total Requests refused by the rate limiter
# TYPE bazaar_rate_limited_total counter
bazaar_rate_limited_total{action="bid"} 2
bazaar_rate_limited_total{action="buy"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "bazaar_rate_limited_total"))
}

func TestHandler_Serves(t *testing.T) {
	m := metrics.NewHTTP()
	m.RateLimited("bid")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bazaar_rate_limited_total{action="bid"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
