package buildout

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes mounts under /buildout. Every route is operator-only.
func SetupRoutes(h *Handler, operator func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(operator)

	r.Route("/requests", func(r chi.Router) {
		r.Get("/", h.ListRequests)
		r.Post("/", h.CreateRequest)
		r.Get("/{id}", h.GetRequest)
		r.Patch("/{id}", h.UpdateRequest)
		r.Post("/{id}/approve", h.ApproveRequest)
		r.Post("/{id}/reject", h.RejectRequest)
		r.Post("/{id}/cancel", h.CancelRequest)
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.ListProjects)
		r.Post("/", h.CreateProject)
		r.Get("/{id}", h.GetProject)
		r.Patch("/{id}", h.UpdateProject)
		r.Delete("/{id}", h.DeleteProject)

		// Append-only: no update or delete routes for log entries
		r.Get("/{id}/updates", h.ListUpdates)
		r.Post("/{id}/updates", h.PostUpdate)

		r.Get("/{id}/milestones", h.ListMilestones)
		r.Post("/{id}/milestones", h.CreateMilestone)
	})

	r.Get("/milestones/{id}", h.GetMilestone)
	r.Patch("/milestones/{id}", h.UpdateMilestone)
	r.Delete("/milestones/{id}", h.DeleteMilestone)

	return r
}
