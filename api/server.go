/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard

SECURITY NOTE:
  No authentication middleware. Party identity is asserted in request
  bodies; an upstream gateway is expected to authenticate callers.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Get("/{id}/entries", h.GetEntries)
			r.Get("/{id}/events", h.StreamEvents)
			r.Post("/{id}/deposits", h.Deposit)
			r.Post("/{id}/change-orders", h.ApplyChangeOrder)
			r.Post("/{id}/cancel", h.CancelProject)
			r.Post("/{id}/complete", h.CompleteProject)
		})

		// Milestone routes
		r.Route("/milestones", func(r chi.Router) {
			r.Get("/{id}", h.GetMilestone)
			r.Post("/{id}/reserve", h.ReserveMilestone)
			r.Post("/{id}/submit", h.SubmitMilestone)
			r.Post("/{id}/approval", h.RecordApproval)
			r.Post("/{id}/inspection", h.RecordInspection)
			r.Post("/{id}/release", h.ReleaseMilestone)
			r.Post("/{id}/void", h.VoidMilestone)
			r.Post("/{id}/disputes", h.OpenDispute)
		})

		// Dispute routes
		r.Route("/disputes", func(r chi.Router) {
			r.Get("/{id}", h.GetDispute)
			r.Post("/{id}/counter", h.RecordCounterClaim)
			r.Post("/{id}/resolve", h.ResolveDispute)
		})

		// Entry routes (rail confirmations and corrections)
		r.Route("/entries", func(r chi.Router) {
			r.Post("/{id}/settlement", h.RecordSettlement)
			r.Post("/{id}/reverse", h.ReverseEntry)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Escrow Milestone Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Escrow Milestone Ledger API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/projects">/api/projects</a> - List projects</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
