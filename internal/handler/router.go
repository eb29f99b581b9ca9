package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "retail-assistant/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware бота-ассистента.
func (h *Handler) SetupRouter(auth *custommiddleware.TokenAuth) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/api/events", h.Events)
	})

	r.Get("/ping", h.Ping)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
