// Package gateway mediates CRUD against the durable store for sensitive
// tables: records are protected on the way in, resolved per caller
// permission on the way out, and every outcome leaves exactly one audit
// event — including failures.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vaultrail/internal/audit"
	"vaultrail/internal/platform/metrics"
	"vaultrail/internal/protection"
	"vaultrail/internal/storage"
	"vaultrail/pkg/platform/sentinel"
)

// Actor is the caller on whose behalf an operation runs. HasPermission
// gates plaintext disclosure; the decision itself is made upstream.
type Actor struct {
	ID            string
	TenantID      string
	SessionID     string
	CorrelationID string
	SourceIP      string
	HasPermission bool
}

func (a Actor) subject() audit.Subject {
	return audit.Subject{
		TenantID:      a.TenantID,
		ActorID:       a.ID,
		SessionID:     a.SessionID,
		CorrelationID: a.CorrelationID,
		SourceIP:      a.SourceIP,
	}
}

// Gateway applies the field protection policy around store operations.
type Gateway struct {
	store    storage.Store
	policy   *protection.Policy
	registry *protection.Registry
	pipeline *audit.Pipeline
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a gateway over the given store, policy, config registry and
// audit pipeline.
func New(store storage.Store, policy *protection.Policy, registry *protection.Registry, pipeline *audit.Pipeline, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		policy:   policy,
		registry: registry,
		pipeline: pipeline,
		tracer:   otel.Tracer("vaultrail/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) fieldNames(table string) []string {
	cfgs := g.registry.FieldsFor(table)
	names := make([]string, len(cfgs))
	for i, cfg := range cfgs {
		names[i] = cfg.Field
	}
	return names
}

// Insert protects and persists a record. The returned copy is resolved per
// the actor's own permission. Store failure returns the store's error
// verbatim — after recording an ERROR-status audit event.
func (g *Gateway) Insert(ctx context.Context, table string, record storage.Row, actor Actor) (storage.Row, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.insert", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	protected, err := g.policy.Protect(record, g.registry.FieldsFor(table))
	if err != nil {
		g.metrics.IncGatewayOp(table, "insert", "error")
		g.pipeline.LogError(ctx, actor.subject(), audit.ActionCreate, table, fmt.Sprintf("protect failed: %v", err))
		return nil, err
	}

	stored, err := g.store.Insert(ctx, table, protected)
	if err != nil {
		g.metrics.IncGatewayOp(table, "insert", "error")
		g.pipeline.LogError(ctx, actor.subject(), audit.ActionCreate, table, fmt.Sprintf("insert failed: %v", err))
		return nil, err
	}

	g.metrics.IncGatewayOp(table, "insert", "ok")
	g.pipeline.LogCreate(ctx, actor.subject(), table, rowID(stored), snapshot(stored, g.fieldNames(table)))
	return g.policy.Unprotect(stored, g.fieldNames(table), actor.HasPermission)
}

// Update protects the patch, applies it to the first row matching filter,
// and audits the old/new snapshots.
func (g *Gateway) Update(ctx context.Context, table string, patch storage.Row, filter storage.Filter, actor Actor) (storage.Row, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.update", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	previous, err := g.store.SelectOne(ctx, table, filter)
	if err != nil {
		g.metrics.IncGatewayOp(table, "update", "error")
		g.pipeline.LogError(ctx, actor.subject(), audit.ActionUpdate, table, fmt.Sprintf("lookup failed: %v", err))
		return nil, err
	}

	protectedPatch, err := g.policy.Protect(patch, g.registry.FieldsFor(table))
	if err != nil {
		g.metrics.IncGatewayOp(table, "update", "error")
		g.pipeline.LogError(ctx, actor.subject(), audit.ActionUpdate, table, fmt.Sprintf("protect failed: %v", err))
		return nil, err
	}

	updated, err := g.store.Update(ctx, table, protectedPatch, filter)
	if err != nil {
		g.metrics.IncGatewayOp(table, "update", "error")
		g.pipeline.LogError(ctx, actor.subject(), audit.ActionUpdate, table, fmt.Sprintf("update failed: %v", err))
		return nil, err
	}

	fields := g.fieldNames(table)
	g.metrics.IncGatewayOp(table, "update", "ok")
	g.pipeline.LogUpdate(ctx, actor.subject(), table, rowID(updated), snapshot(previous, fields), snapshot(updated, fields))
	return g.policy.Unprotect(updated, fields, actor.HasPermission)
}

// Select returns matching rows resolved per the actor's permission and
// records the read. Plaintext disclosure additionally records a DECRYPT
// event so off-hours monitoring sees it.
func (g *Gateway) Select(ctx context.Context, table string, opts storage.QueryOptions, actor Actor) ([]storage.Row, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.select", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	rows, err := g.store.Select(ctx, table, opts)
	if err != nil {
		g.metrics.IncGatewayOp(table, "select", "error")
		g.pipeline.LogError(ctx, actor.subject(), audit.ActionRead, table, fmt.Sprintf("select failed: %v", err))
		return nil, err
	}

	fields := g.fieldNames(table)
	out := make([]storage.Row, 0, len(rows))
	disclosed := false
	for _, row := range rows {
		if actor.HasPermission && hasProtectedField(row, fields) {
			disclosed = true
		}
		resolved, err := g.policy.Unprotect(row, fields, actor.HasPermission)
		if err != nil {
			g.metrics.IncGatewayOp(table, "select", "error")
			g.pipeline.LogError(ctx, actor.subject(), audit.ActionDecrypt, table, fmt.Sprintf("unprotect failed: %v", err))
			return nil, err
		}
		out = append(out, resolved)
	}

	g.metrics.IncGatewayOp(table, "select", "ok")
	g.pipeline.LogRead(ctx, actor.subject(), table, "")
	if disclosed {
		e := audit.Event{Action: audit.ActionDecrypt, ResourceType: table, Severity: audit.SeverityMedium}
		actor.subject().Apply(&e)
		g.pipeline.Enqueue(ctx, e)
	}
	return out, nil
}

// Delete removes the first row matching filter and audits the removed
// snapshot at HIGH severity.
func (g *Gateway) Delete(ctx context.Context, table string, filter storage.Filter, actor Actor) error {
	ctx, span := g.tracer.Start(ctx, "gateway.delete", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	removed, err := g.store.Delete(ctx, table, filter)
	if err != nil {
		g.metrics.IncGatewayOp(table, "delete", "error")
		g.pipeline.LogError(ctx, actor.subject(), audit.ActionDelete, table, fmt.Sprintf("delete failed: %v", err))
		return err
	}

	g.metrics.IncGatewayOp(table, "delete", "ok")
	g.pipeline.LogDelete(ctx, actor.subject(), table, rowID(removed), snapshot(removed, g.fieldNames(table)))
	return nil
}

// SelectOne returns the first row matching filter, resolved per permission.
func (g *Gateway) SelectOne(ctx context.Context, table string, filter storage.Filter, actor Actor) (storage.Row, error) {
	rows, err := g.Select(ctx, table, storage.QueryOptions{Filter: filter, Limit: 1}, actor)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("table %q: %w", table, sentinel.ErrNotFound)
	}
	return rows[0], nil
}

func rowID(row storage.Row) string {
	id, _ := row["id"].(string)
	return id
}

// snapshot masks protected fields in audit value snapshots: the trail must
// never carry plaintext or ciphertext for sensitive columns.
func snapshot(row storage.Row, fields []string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, name := range fields {
		if pf, ok := protection.AsProtectedField(out[name]); ok {
			out[name] = pf.Masked.Display
		}
	}
	return out
}

func hasProtectedField(row storage.Row, fields []string) bool {
	for _, name := range fields {
		if _, ok := protection.AsProtectedField(row[name]); ok {
			return true
		}
	}
	return false
}
