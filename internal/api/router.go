package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/taskpulse/taskpulse/internal/api/middleware"
	"github.com/taskpulse/taskpulse/internal/platform/metrics"
)

// RouterDeps collects the handlers the router mounts.
type RouterDeps struct {
	Tasks   *TaskHandler
	Audit   *AuditHandler
	Health  *HealthHandler
	Metrics *metrics.Metrics
}

// NewRouter assembles the HTTP routes. Health and metrics are served
// outside the identity middleware; everything else requires a caller
// identity header.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Trace)
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}

	r.Get("/healthz", deps.Health.Check)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", deps.Tasks.Create)
			r.Get("/", deps.Tasks.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", deps.Tasks.Get)
				r.Put("/", deps.Tasks.Update)
				r.Delete("/", deps.Tasks.Delete)
				r.Post("/complete", deps.Tasks.Complete)
				r.Get("/history", deps.Audit.History)
			})
		})

		r.Get("/activity", deps.Audit.Activity)
	})

	return r
}
