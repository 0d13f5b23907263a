package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"vaultrail/internal/alert"
	"vaultrail/internal/audit"
	"vaultrail/internal/gateway"
	"vaultrail/internal/keys"
	"vaultrail/internal/reports"
	"vaultrail/internal/storage"
	"vaultrail/pkg/platform/httputil"
	"vaultrail/pkg/platform/middleware/auth"
	"vaultrail/pkg/platform/sentinel"
)

// Handler wires the ops endpoints to domain services.
type Handler struct {
	gateway  *gateway.Gateway
	pipeline *audit.Pipeline
	manager  *keys.Manager
	engine   *alert.Engine
	exporter *reports.Exporter
	logger   *slog.Logger
}

// NewHandler constructs the HTTP handler with its dependencies.
func NewHandler(g *gateway.Gateway, p *audit.Pipeline, m *keys.Manager, e *alert.Engine, x *reports.Exporter, logger *slog.Logger) *Handler {
	return &Handler{gateway: g, pipeline: p, manager: m, engine: e, exporter: x, logger: logger}
}

// actorFrom builds the gateway actor for the authenticated request.
func actorFrom(r *http.Request) gateway.Actor {
	p := auth.FromContext(r.Context())
	return gateway.Actor{
		ID:            p.ActorID,
		TenantID:      p.TenantID,
		SessionID:     p.SessionID,
		CorrelationID: middleware.GetReqID(r.Context()),
		SourceIP:      r.RemoteAddr,
		HasPermission: p.CanReveal,
	}
}

func subjectFrom(r *http.Request) audit.Subject {
	p := auth.FromContext(r.Context())
	return audit.Subject{
		TenantID:      p.TenantID,
		ActorID:       p.ActorID,
		SessionID:     p.SessionID,
		CorrelationID: middleware.GetReqID(r.Context()),
		SourceIP:      r.RemoteAddr,
	}
}

func queryInt(r *http.Request, key, fallback string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		raw = fallback
	}
	n, _ := strconv.Atoi(raw)
	return n
}

// HandleHealth reports liveness plus pipeline backlog for quick triage.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"audit_queue":    h.pipeline.QueueDepth(),
		"audit_fallback": h.pipeline.Fallback().Len(),
		"active_key":     h.manager.ActiveVersion(),
	})
}

// HandleInsert handles POST /v1/records/{table}.
func (h *Handler) HandleInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var record storage.Row
	if err := httputil.DecodeJSON(r, &record); err != nil {
		httputil.WriteError(w, err)
		return
	}

	stored, err := h.gateway.Insert(r.Context(), table, record, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

// HandleList handles GET /v1/records/{table}.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	opts := storage.QueryOptions{
		Limit:   queryInt(r, "limit", "100"),
		Offset:  queryInt(r, "offset", "0"),
		OrderBy: r.URL.Query().Get("order_by"),
		Desc:    r.URL.Query().Get("desc") == "true",
	}

	rows, err := h.gateway.Select(r.Context(), table, opts, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
}

// HandleGet handles GET /v1/records/{table}/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	row, err := h.gateway.SelectOne(r.Context(), table, storage.Filter{"id": id}, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, row)
}

// HandleUpdate handles PATCH /v1/records/{table}/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	var patch storage.Row
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.WriteError(w, err)
		return
	}
	delete(patch, "id")

	updated, err := h.gateway.Update(r.Context(), table, patch, storage.Filter{"id": id}, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// HandleDelete handles DELETE /v1/records/{table}/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	if err := h.gateway.Delete(r.Context(), table, storage.Filter{"id": id}, actorFrom(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMigrate handles POST /v1/records/{table}/migrate. Dry-run by default;
// pass dry_run=false to mutate.
func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	batchSize := queryInt(r, "batch_size", "100")
	dryRun := r.URL.Query().Get("dry_run") != "false"

	report, err := h.gateway.Migrate(r.Context(), table, batchSize, dryRun, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleAuditEvents handles GET /v1/audit/events.
func (h *Handler) HandleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := reports.Query{
		TenantID: r.URL.Query().Get("tenant_id"),
		ActorID:  r.URL.Query().Get("actor_id"),
		Action:   audit.Action(r.URL.Query().Get("action")),
		Limit:    queryInt(r, "limit", "100"),
	}
	events, err := h.exporter.Events(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": events, "count": len(events)})
}

// HandleAuditExport handles GET /v1/audit/export, streaming CSV.
func (h *Handler) HandleAuditExport(w http.ResponseWriter, r *http.Request) {
	q := reports.Query{
		TenantID: r.URL.Query().Get("tenant_id"),
		ActorID:  r.URL.Query().Get("actor_id"),
		Action:   audit.Action(r.URL.Query().Get("action")),
		Limit:    queryInt(r, "limit", "0"),
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-events.csv"`)
	if _, err := h.exporter.WriteCSV(r.Context(), w, q, subjectFrom(r)); err != nil {
		h.logger.ErrorContext(r.Context(), "audit export failed", "error", err)
	}
}

// HandleAuditFlush handles POST /v1/audit/flush, draining the queue now.
func (h *Handler) HandleAuditFlush(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Flush(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"queue_depth": h.pipeline.QueueDepth(),
		"fallback":    h.pipeline.Fallback().Len(),
	})
}

// HandleAuditReplay handles POST /v1/audit/replay, re-delivering fallback
// events to the store.
func (h *Handler) HandleAuditReplay(w http.ResponseWriter, r *http.Request) {
	delivered := h.pipeline.ReplayFallback(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"delivered": delivered,
		"remaining": h.pipeline.Fallback().Len(),
	})
}

// HandleKeyInfo handles GET /v1/keys. Metadata only, never material.
func (h *Handler) HandleKeyInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"active_version": h.manager.ActiveVersion(),
		"keys":           h.manager.Info(),
	})
}

// HandleKeyRotate handles POST /v1/keys/rotate.
func (h *Handler) HandleKeyRotate(w http.ResponseWriter, r *http.Request) {
	next, err := h.manager.Rotate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	e := audit.Event{
		Action:       audit.ActionUpdate,
		ResourceType: "encryption_key",
		Description:  "manual key rotation",
		Severity:     audit.SeverityHigh,
	}
	subjectFrom(r).Apply(&e)
	h.pipeline.Enqueue(r.Context(), e)

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"active_version": next.Version})
}

// HandleAlertList handles GET /v1/alerts.
func (h *Handler) HandleAlertList(w http.ResponseWriter, r *http.Request) {
	status := alert.Status(r.URL.Query().Get("status"))
	alerts, err := h.engine.List(r.Context(), status, queryInt(r, "limit", "100"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": alerts, "count": len(alerts)})
}

type alertTransitionRequest struct {
	Status   alert.Status `json:"status"`
	Assignee string       `json:"assignee,omitempty"`
	Notes    string       `json:"notes,omitempty"`
}

// HandleAlertTransition handles POST /v1/alerts/{id}/status.
func (h *Handler) HandleAlertTransition(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, sentinel.ErrInvalidInput)
		return
	}

	var req alertTransitionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := h.engine.Transition(r.Context(), id, req.Status, req.Assignee, req.Notes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// HandleAlertRulesGet handles GET /v1/alerts/rules.
func (h *Handler) HandleAlertRulesGet(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.engine.Rules())
}

// HandleAlertRulesUpdate handles PUT /v1/alerts/rules. Durations are
// nanoseconds, matching Go's JSON encoding of time.Duration.
func (h *Handler) HandleAlertRulesUpdate(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.Rules()
	if err := httputil.DecodeJSON(r, &cfg); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.engine.UpdateRules(cfg)
	h.logger.InfoContext(r.Context(), "alert rules updated",
		"actor_id", auth.FromContext(r.Context()).ActorID,
	)
	httputil.WriteJSON(w, http.StatusOK, cfg)
}
