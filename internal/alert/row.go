package alert

import (
	"time"

	"github.com/google/uuid"

	"vaultrail/internal/audit"
	"vaultrail/internal/storage"
)

// AlertsTable is where raised alerts are persisted.
const AlertsTable = "alerts"

// ToRow flattens an Alert into the store's generic row shape.
func ToRow(a Alert) storage.Row {
	row := storage.Row{
		"id":              a.ID.String(),
		"source_event_id": a.SourceEventID.String(),
		"type":            string(a.Type),
		"title":           a.Title,
		"message":         a.Message,
		"severity":        string(a.Severity),
		"status":          string(a.Status),
		"triggered_at":    a.TriggeredAt.UTC().Format(audit.TimeLayout),
	}
	if a.AssignedTo != "" {
		row["assigned_to"] = a.AssignedTo
	}
	if a.AcknowledgedAt != nil {
		row["acknowledged_at"] = a.AcknowledgedAt.UTC().Format(audit.TimeLayout)
	}
	if a.ResolvedAt != nil {
		row["resolved_at"] = a.ResolvedAt.UTC().Format(audit.TimeLayout)
	}
	if a.ResolutionNotes != "" {
		row["resolution_notes"] = a.ResolutionNotes
	}
	return row
}

// FromRow rebuilds an Alert from a stored row.
func FromRow(row storage.Row) Alert {
	a := Alert{
		Type:            Type(rowStr(row, "type")),
		Title:           rowStr(row, "title"),
		Message:         rowStr(row, "message"),
		Severity:        audit.Severity(rowStr(row, "severity")),
		Status:          Status(rowStr(row, "status")),
		AssignedTo:      rowStr(row, "assigned_to"),
		ResolutionNotes: rowStr(row, "resolution_notes"),
	}
	if id, err := uuid.Parse(rowStr(row, "id")); err == nil {
		a.ID = id
	}
	if id, err := uuid.Parse(rowStr(row, "source_event_id")); err == nil {
		a.SourceEventID = id
	}
	if ts, err := time.Parse(time.RFC3339Nano, rowStr(row, "triggered_at")); err == nil {
		a.TriggeredAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, rowStr(row, "acknowledged_at")); err == nil {
		a.AcknowledgedAt = &ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, rowStr(row, "resolved_at")); err == nil {
		a.ResolvedAt = &ts
	}
	return a
}

func rowStr(row storage.Row, key string) string {
	s, _ := row[key].(string)
	return s
}
