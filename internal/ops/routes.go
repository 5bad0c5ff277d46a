package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medtrack/internal/types"
)

const requestTimeout = 30 * time.Second

// mountRoutes registers middleware and routes.
//
// Ordering:
//  1. Recoverer      - outermost so every panic is caught and reported.
//  2. RequestID      - correlation ID for logs and alerts.
//  3. ContextTimeout
//  4. RequestLogger
//  5. Metrics
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(ContextTimeoutMiddleware(requestTimeout))
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(s.MetricsMiddleware)

	s.router.Get("/healthz", s.HandleHealth)
	if s.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(s.AdminKeyMiddleware)
		r.Get("/streams/{stream}/groups/{group}/stats", s.HandleStats)
		r.Post("/streams/{stream}/groups/{group}/partitions/{partition}/reset", s.HandleResetCursor)
		r.Post("/members/{memberID}/sweep", s.HandleSweep)
	})
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses X-Request-Id or generates one, stores it in the
// context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
