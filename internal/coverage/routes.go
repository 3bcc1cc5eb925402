package coverage

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes mounts under /coverage-areas. operator guards every route
// except the public match endpoint.
func SetupRoutes(h *Handler, operator func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	// Public: lets sales tooling explain a verdict without an operator token
	r.Post("/match", h.Match)

	r.Group(func(r chi.Router) {
		r.Use(operator)

		r.Get("/", h.ListAreas)
		r.Post("/", h.CreateArea)
		r.Get("/{id}", h.GetArea)
		r.Patch("/{id}", h.UpdateArea)
		r.Delete("/{id}", h.DeleteArea)
	})

	return r
}
