// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jensholdgaard/bazaar/internal/clock"
)

// Probe states reported in Status.Status.
const (
	StatusOK       = "ok"
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function. A failing Optional check
// degrades readiness without taking the instance out of rotation.
type Checker struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	checkers []Checker
	clock    clock.Clock
	timeout  time.Duration
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk, timeout: 5 * time.Second}
}

// Add registers another checker. It is safe to call while serving.
func (h *Handler) Add(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{Status: StatusOK, Timestamp: h.now()})
	}
}

// ReadinessHandler returns HTTP 200 while the service is ready and every
// required check passes. Failing optional checks report "degraded" with 200.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		checkers := append([]Checker(nil), h.checkers...)
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, Status{Status: StatusNotReady, Timestamp: h.now()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		checks := make(map[string]string, len(checkers))
		status, code := StatusReady, http.StatusOK
		for _, c := range checkers {
			err := c.Check(ctx)
			if err == nil {
				checks[c.Name] = "ok"
				continue
			}
			checks[c.Name] = err.Error()
			if c.Optional {
				if status == StatusReady {
					status = StatusDegraded
				}
				continue
			}
			status, code = StatusNotReady, http.StatusServiceUnavailable
		}

		writeJSON(w, code, Status{Status: status, Checks: checks, Timestamp: h.now()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
