/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     request logging
  2. Recoverer:  panic recovery (500 instead of crash)
  3. RequestID:  unique ID per request for tracing
  4. CORS:       cross-origin requests for frontends

ROUTE GROUPS:
  /api/owners            identity provisioning (no credential)
  /api/projects/*        project plumbing (credential required)
  /api/entries/*         entry lifecycle (credential required)
  /api/events            SSE event stream (credential required)

SEE ALSO:
  - handlers.go: handler implementations
  - auth.go:     identity resolution middleware
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/owners", h.CreateOwner)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireOwner)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", h.ListProjects)
				r.Post("/", h.CreateProject)
			})

			r.Route("/entries", func(r chi.Router) {
				r.Get("/", h.ListEntries)
				r.Post("/", h.ImportEntry)
				r.Get("/current", h.CurrentEntry)
				r.Get("/summary", h.Summary)
				r.Post("/start", h.StartEntry)

				r.Route("/{id}", func(r chi.Router) {
					r.Put("/", h.EditEntry)
					r.Delete("/", h.DeleteEntry)
					r.Post("/stop", h.StopEntry)
					r.Post("/shift-start", h.ShiftStart)
					r.Post("/edit-linked", h.EditLinked)
				})
			})

			r.Get("/events", h.StreamEvents)
		})
	})

	return r
}
