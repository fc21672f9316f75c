package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/localops/localops/internal/adapter/otel"
	"github.com/localops/localops/internal/adapter/ws"
)

// NewRouter builds the API router: health and WebSocket routes outside
// the API-key gate, everything under /v1 behind it.
func NewRouter(h *Handlers, hub *ws.Hub, apiKey, corsOrigin string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(CORS(corsOrigin))
	r.Use(Logger)
	r.Use(otel.HTTPMiddleware("localops-api"))

	r.Get("/healthz", h.Healthz)

	// WebSocket subscriptions carry no headers from browsers; the hub
	// only streams already-visible run events.
	r.Get("/v1/ws/runs/{run_id}", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(APIKey(apiKey))

		r.Post("/v1/projects", h.CreateProject)
		r.Get("/v1/projects", h.ListProjects)
		r.Post("/v1/projects/{id}/plans", h.CreatePlan)
		r.Post("/v1/projects/{id}/runs", h.CreateRun)
		r.Post("/v1/projects/{id}/search", h.Search)
		r.Post("/v1/projects/{id}/index:build", h.BuildIndex)

		r.Post("/v1/runs/{id}:approve", h.ApproveRun)
		r.Post("/v1/runs/{id}:cancel", h.CancelRun)
		r.Get("/v1/runs/{id}", h.GetRun)

		r.Post("/v1/internal/runs/{id}/events", h.PostRunEvent)
	})

	return r
}
