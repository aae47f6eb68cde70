package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewRouter mounts the gateway routes with request-ID and logging
// middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger(h.Logger))

	r.Get("/health", h.Health)
	r.Post("/verify", h.Verify)
	r.Post("/settle", h.Settle)
	r.Get("/transactions", h.Transactions)

	return r
}

const requestIDHeader = "X-Request-ID"

// requestID stamps every response with an ID, honoring one supplied by the
// caller.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("requestId", w.Header().Get(requestIDHeader)),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
