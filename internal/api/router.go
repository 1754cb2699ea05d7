package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the handlers. metricsHandler is served at /metrics when
// non-nil.
func NewRouter(h *Handler, allowedOrigins []string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Get("/api/stops/nearest", h.GetNearest)
	r.Get("/api/stops/{stopId}/eta", h.GetStopArrivals)
	r.Get("/api/report", h.GetReport)
	r.Get("/api/jobs", h.GetJobs)

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}
