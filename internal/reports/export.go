// Package reports produces audit trail exports for compliance review.
package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"vaultrail/internal/audit"
	"vaultrail/internal/storage"
)

// Query bounds an export.
type Query struct {
	TenantID string
	ActorID  string
	Action   audit.Action
	Limit    int
}

// Exporter reads persisted audit events and writes them out. Every export is
// itself audited with the exported row count, which is what the bulk-export
// rule watches.
type Exporter struct {
	store    storage.Store
	pipeline *audit.Pipeline
}

// NewExporter wires an exporter over the durable store.
func NewExporter(store storage.Store, pipeline *audit.Pipeline) *Exporter {
	return &Exporter{store: store, pipeline: pipeline}
}

// Events loads events matching the query, newest first.
func (x *Exporter) Events(ctx context.Context, q Query) ([]audit.Event, error) {
	opts := storage.QueryOptions{OrderBy: "timestamp", Desc: true, Limit: q.Limit}
	filter := storage.Filter{}
	if q.TenantID != "" {
		filter["tenant_id"] = q.TenantID
	}
	if q.ActorID != "" {
		filter["actor_id"] = q.ActorID
	}
	if q.Action != "" {
		filter["action"] = string(q.Action)
	}
	if len(filter) > 0 {
		opts.Filter = filter
	}

	rows, err := x.store.Select(ctx, audit.EventsTable, opts)
	if err != nil {
		return nil, fmt.Errorf("load audit events: %w", err)
	}
	events := make([]audit.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, audit.FromRow(row))
	}
	return events, nil
}

// csvHeader fixes the column contract: positional consumers rely on the
// first nine columns; supplementary columns go after them.
var csvHeader = []string{
	"timestamp", "actor_id", "action", "resource_type", "description",
	"severity", "status", "source_ip", "suspicious", "tenant_id", "resource_id",
}

// WriteCSV streams matching events as CSV and audits the export under the
// given subject. The count written is the number of data rows, header
// excluded.
func (x *Exporter) WriteCSV(ctx context.Context, w io.Writer, q Query, sub audit.Subject) (int, error) {
	events, err := x.Events(ctx, q)
	if err != nil {
		x.pipeline.LogError(ctx, sub, audit.ActionExport, audit.EventsTable,
			fmt.Sprintf("audit export failed: %v", err))
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range events {
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.ActorID,
			string(e.Action),
			e.ResourceType,
			e.Description,
			string(e.Severity),
			string(e.Status),
			e.SourceIP,
			strconv.FormatBool(e.Suspicious),
			e.TenantID,
			e.ResourceID,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}

	x.pipeline.LogExport(ctx, sub, audit.EventsTable, len(events))
	return len(events), nil
}
