/*
server.go - HTTP server setup and routing

PURPOSE:
  Configures the chi router, middleware stack, and route tree. Identity is
  trusted from gateway-injected headers; this service performs no
  authentication of its own.

MIDDLEWARE STACK (applied in order):
  1. RequestID  - Correlation id per request
  2. Logger     - Request logging
  3. Recoverer  - Panic recovery, 500 instead of crash
  4. CORS       - Browser cross-origin access
  5. RequireActor / RequireAdmin - Gateway identity enforcement per subtree

SEE ALSO:
  - handlers.go: Endpoint implementations
  - auth.go: Actor extraction and role checks
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full route tree.
func NewRouter(h *Handler, metrics *Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", headerActorID, headerActorRole},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Operational endpoints, no identity required.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Everything below requires a gateway-authenticated actor.
	r.Group(func(r chi.Router) {
		r.Use(RequireActor)

		r.Post("/ledger/entries", h.AppendEntry)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.With(RequireAdmin).Get("/", h.ListUsers)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/rank", h.GetRank)
			r.Get("/{id}/entries", h.GetEntries)
			r.Get("/{id}/badges", h.GetUserBadges)
		})

		r.Get("/leaderboard", h.GetLeaderboard)

		r.Route("/badges/catalog", func(r chi.Router) {
			r.Get("/", h.ListBadgeCatalog)
			r.With(RequireAdmin).Post("/", h.CreateBadge)
			r.With(RequireAdmin).Put("/{id}", h.UpdateBadge)
			r.With(RequireAdmin).Delete("/{id}", h.DeleteBadge)
		})

		r.Route("/referrals", func(r chi.Router) {
			r.Post("/", h.CreateReferral)
			r.Post("/{id}/credit", h.CreditReferral)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/users/{id}/close", h.CloseAccount)
			r.Post("/rebuild/{id}", h.RebuildProjection)
		})

		r.With(RequireAdmin).Get("/stats", h.GetStats)
	})

	return r
}
