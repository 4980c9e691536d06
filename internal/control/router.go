package control

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Read-only routes, open to any local process
		r.Get("/health", s.handleHealth)
		r.Get("/devices", s.handleListDevices)

		r.Route("/devices/{address}", func(r chi.Router) {
			r.Get("/mode", s.handleGetMode)

			// Mutating routes, root only
			r.Group(func(r chi.Router) {
				r.Use(s.requireRoot)
				r.Put("/mode", s.handleSetMode)
				r.Put("/mode-only", s.handleSetModeOnly)
				r.Put("/numa-status", s.handleSetNumaStatus)
			})
		})

		// Audit trail, root only
		r.With(s.requireRoot).Get("/transitions", s.handleListTransitions)
	})

	return r
}
