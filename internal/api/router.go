package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/vigil/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	writeLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrNotFound)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Forced refreshes run every probe, so they share the write budget.
		r.With(middleware.RateLimitByIPWhen(writeLimiter, wantsRefresh)).Get("/health", s.getHealth)

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.listSnapshots)
			r.Get("/recent", s.recentSnapshots)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.listAlerts)
			r.Get("/recent", s.recentAlerts)
			r.Get("/summary", s.alertSummary)
			r.Get("/{id}", s.getAlert)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(writeLimiter))
				r.Post("/", s.createAlert)
				r.Put("/{id}/acknowledge", s.acknowledgeAlert)
				r.Put("/{id}/resolve", s.resolveAlert)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.listNotifications)
			r.Get("/status", s.notificationStatus)
			r.Get("/{id}", s.getNotification)

			r.With(middleware.RateLimitByIP(writeLimiter)).Post("/", s.enqueueNotification)
		})

		if s.deps.Jobs != nil {
			r.Get("/jobs", s.listJobs)
		}
	})

	// Liveness of the process itself; does not touch probes or storage.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "ok"})
	})

	return r
}
