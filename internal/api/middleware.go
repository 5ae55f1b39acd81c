package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"

	"github.com/jensholdgaard/bazaar/internal/auth"
	"github.com/jensholdgaard/bazaar/internal/market"
	"github.com/jensholdgaard/bazaar/internal/telemetry"
)

type identityKey struct{}

func principal(ctx context.Context) market.Principal {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return market.Principal{UserID: id.UserID, Admin: id.Admin}
}

// authenticate attaches the bearer token's identity to the request. Requests
// without a token pass through anonymously; a bad token is refused.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			respondError(w, http.StatusUnauthorized, "authorization must be a bearer token")
			return
		}
		id, err := s.auth.Verify(strings.TrimSpace(token))
		if err != nil {
			s.logger.DebugContext(r.Context(), "token rejected", slog.Any("error", err))
			respondError(w, http.StatusUnauthorized, auth.ErrInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (s *Server) requireUser(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal(r.Context()).UserID == "" {
			respondError(w, http.StatusUnauthorized, "sign in to continue")
			return
		}
		h(w, r)
	})
}

// rateLimit refuses a user's request once the limiter says no. Limiter
// failures let the request through.
func (s *Server) rateLimit(action string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := action + ":" + principal(r.Context()).UserID
		ok, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			s.logger.WarnContext(r.Context(), "rate limiter unavailable", slog.String("key", key), slog.Any("error", err))
			ok = true
		}
		if !ok {
			s.metrics.RateLimited(action)
			respondError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		h(w, r)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		level := slog.LevelInfo
		if m.Code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		telemetry.LogWithTrace(r.Context(), s.logger).Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", m.Code),
			slog.Duration("duration", m.Duration),
			slog.Int64("bytes", m.Written),
		)
	})
}
