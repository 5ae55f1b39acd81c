// Package api exposes the marketplace over HTTP/JSON.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/auth"
	"github.com/jensholdgaard/bazaar/internal/health"
	"github.com/jensholdgaard/bazaar/internal/market"
	"github.com/jensholdgaard/bazaar/internal/metrics"
	"github.com/jensholdgaard/bazaar/internal/ratelimit"
)

// Deps are the collaborators of a Server. Media and MediaPrefix are optional
// and serve locally stored images.
type Deps struct {
	Market         *market.Manager
	Auth           *auth.Authenticator
	Limiter        ratelimit.Limiter
	Metrics        *metrics.HTTP
	Health         *health.Handler
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MaxUploadBytes int64
	Media          http.Handler
	MediaPrefix    string
}

// Server routes HTTP requests to the market.
type Server struct {
	market    *market.Manager
	auth      *auth.Authenticator
	limiter   ratelimit.Limiter
	metrics   *metrics.HTTP
	health    *health.Handler
	logger    *slog.Logger
	tp        trace.TracerProvider
	maxUpload int64
	media     http.Handler
	mediaPath string
	validate  *validator.Validate
}

// New creates a Server.
func New(d Deps) *Server {
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 5 << 20
	}
	return &Server{
		market:    d.Market,
		auth:      d.Auth,
		limiter:   d.Limiter,
		metrics:   d.Metrics,
		health:    d.Health,
		logger:    d.Logger,
		tp:        d.TracerProvider,
		maxUpload: maxUpload,
		media:     d.Media,
		mediaPath: d.MediaPrefix,
		validate:  newValidator(),
	}
}

// Routes returns the HTTP handler serving every endpoint.
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Handle("/healthz", s.health.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/readyz", s.health.ReadinessHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	if s.media != nil && s.mediaPath != "" {
		router.PathPrefix(s.mediaPath).Handler(s.media).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.metrics.Middleware, s.logRequests, s.authenticate)

	api.HandleFunc("/listings", s.listListings).Methods(http.MethodGet)
	api.Handle("/listings", s.requireUser(s.createListing)).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id:[0-9]+}", s.getListing).Methods(http.MethodGet)
	api.Handle("/listings/{id:[0-9]+}", s.requireUser(s.updateListing)).Methods(http.MethodPut)
	api.Handle("/listings/{id:[0-9]+}", s.requireUser(s.deleteListing)).Methods(http.MethodDelete)
	api.Handle("/listings/{id:[0-9]+}/image", s.requireUser(s.uploadImage)).Methods(http.MethodPost)
	api.Handle("/listings/{id:[0-9]+}/bids", s.requireUser(s.rateLimit("bid", s.placeBid))).Methods(http.MethodPost)
	api.Handle("/listings/{id:[0-9]+}/buy", s.requireUser(s.rateLimit("buy", s.buyNow))).Methods(http.MethodPost)
	api.Handle("/listings/{id:[0-9]+}/watch", s.requireUser(s.toggleWatch)).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id:[0-9]+}/status", s.status).Methods(http.MethodGet)
	api.Handle("/listings/{id:[0-9]+}/events", s.requireUser(s.history)).Methods(http.MethodGet)
	api.Handle("/events", s.requireUser(s.eventsByType)).Methods(http.MethodGet)
	api.Handle("/me/dashboard", s.requireUser(s.dashboard)).Methods(http.MethodGet)
	api.Handle("/me/watchlist", s.requireUser(s.watchlist)).Methods(http.MethodGet)
	api.HandleFunc("/categories", s.listCategories).Methods(http.MethodGet)
	api.Handle("/categories", s.requireUser(s.createCategory)).Methods(http.MethodPost)

	tp := s.tp
	if tp == nil {
		return router
	}
	return otelhttp.NewHandler(router, "bazaar.http", otelhttp.WithTracerProvider(tp))
}
