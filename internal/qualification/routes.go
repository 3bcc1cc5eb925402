package qualification

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SetupRoutes mounts under /qualifications. The check endpoint is public and
// passes through limit; the read API requires an operator.
func SetupRoutes(h *Handler, operator, limit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.With(limit).Post("/check", h.Check)

	r.Group(func(r chi.Router) {
		r.Use(operator)

		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.UpdateMetadata)
	})

	return r
}

// SetupAddressRoutes mounts under /addresses.
func SetupAddressRoutes(h *Handler, operator func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(operator)

	r.Post("/", h.CreateAddress)
	r.Get("/{id}", h.GetAddress)

	return r
}
