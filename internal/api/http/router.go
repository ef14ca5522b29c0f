package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/logtide/logtide/internal/metrics"
	"github.com/logtide/logtide/internal/ratelimit"
)

// RouterOptions carry the request-path settings the router needs.
type RouterOptions struct {
	// MaxBodyBytes caps the wire size of an ingest body; 0 disables.
	MaxBodyBytes int64
}

// NewRouter assembles the service's routes. Rate limiting, the body
// cap, and gzip inflation apply only to /ingest; health and metrics
// stay reachable under load.
func NewRouter(h *IngestHandler, limiter *ratelimit.Limiter, m *metrics.Metrics, logger zerolog.Logger, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(logger))
	r.Use(AccessLog(logger))

	r.Get("/healthz", Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.With(
		RateLimit(limiter, m, logger),
		MaxBytes(opts.MaxBodyBytes),
		DecompressGzip,
	).Post("/ingest", h.ServeHTTP)

	return r
}
