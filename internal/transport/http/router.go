// Package httptransport is the thin HTTP layer over the record gateway,
// audit pipeline, key manager and alert engine. Handlers delegate to domain
// services; no business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vaultrail/pkg/platform/middleware/auth"
)

// NewRouter wires the public surface. Everything under /v1 requires a valid
// bearer token; admin-scoped routes additionally require the admin claim.
func NewRouter(h *Handler, verifier *auth.Verifier, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth(verifier, logger))

		r.Route("/records/{table}", func(r chi.Router) {
			r.Post("/", h.HandleInsert)
			r.Get("/", h.HandleList)
			r.Get("/{id}", h.HandleGet)
			r.Patch("/{id}", h.HandleUpdate)
			r.Delete("/{id}", h.HandleDelete)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/events", h.HandleAuditEvents)
			r.Get("/export", h.HandleAuditExport)
		})

		r.Get("/keys", h.HandleKeyInfo)
		r.Get("/alerts", h.HandleAlertList)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(logger))

			r.Post("/records/{table}/migrate", h.HandleMigrate)
			r.Post("/keys/rotate", h.HandleKeyRotate)
			r.Post("/audit/flush", h.HandleAuditFlush)
			r.Post("/audit/replay", h.HandleAuditReplay)
			r.Post("/alerts/{id}/status", h.HandleAlertTransition)
			r.Get("/alerts/rules", h.HandleAlertRulesGet)
			r.Put("/alerts/rules", h.HandleAlertRulesUpdate)
		})
	})

	return r
}
