package audit

import (
	"time"

	"github.com/google/uuid"

	"vaultrail/internal/storage"
)

// EventsTable is where events land when the store has no log_event procedure.
const EventsTable = "audit_events"

// TimeLayout is the persisted timestamp format. Fractional seconds are
// fixed-width so lexicographic order matches time order; RFC3339Nano trims
// trailing zeros and breaks ordering for events on a second boundary.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ToRow flattens an Event into the store's generic row shape.
func ToRow(e Event) storage.Row {
	row := storage.Row{
		"id":         e.ID.String(),
		"timestamp":  e.Timestamp.UTC().Format(TimeLayout),
		"actor_id":   e.ActorID,
		"action":     string(e.Action),
		"severity":   string(e.Severity),
		"status":     string(e.Status),
		"suspicious": e.Suspicious,
	}
	setIfNotEmpty := func(key, val string) {
		if val != "" {
			row[key] = val
		}
	}
	setIfNotEmpty("tenant_id", e.TenantID)
	setIfNotEmpty("resource_type", e.ResourceType)
	setIfNotEmpty("resource_id", e.ResourceID)
	setIfNotEmpty("description", e.Description)
	setIfNotEmpty("correlation_id", e.CorrelationID)
	setIfNotEmpty("session_id", e.SessionID)
	setIfNotEmpty("source_ip", e.SourceIP)
	if len(e.OldValues) > 0 {
		row["old_values"] = e.OldValues
	}
	if len(e.NewValues) > 0 {
		row["new_values"] = e.NewValues
	}
	if e.RecordCount > 0 {
		row["record_count"] = e.RecordCount
	}
	return row
}

// FromRow rebuilds an Event from a stored row. Unknown or missing keys
// default to zero values; the change feed may deliver rows that round-tripped
// through JSON, so numbers arrive as float64.
func FromRow(row storage.Row) Event {
	e := Event{
		ActorID:       str(row, "actor_id"),
		Action:        Action(str(row, "action")),
		Severity:      Severity(str(row, "severity")),
		Status:        Status(str(row, "status")),
		TenantID:      str(row, "tenant_id"),
		ResourceType:  str(row, "resource_type"),
		ResourceID:    str(row, "resource_id"),
		Description:   str(row, "description"),
		CorrelationID: str(row, "correlation_id"),
		SessionID:     str(row, "session_id"),
		SourceIP:      str(row, "source_ip"),
	}
	if id, err := uuid.Parse(str(row, "id")); err == nil {
		e.ID = id
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(row, "timestamp")); err == nil {
		e.Timestamp = ts
	}
	if v, ok := row["suspicious"].(bool); ok {
		e.Suspicious = v
	}
	if v, ok := row["old_values"].(map[string]any); ok {
		e.OldValues = v
	}
	if v, ok := row["new_values"].(map[string]any); ok {
		e.NewValues = v
	}
	switch v := row["record_count"].(type) {
	case int:
		e.RecordCount = v
	case float64:
		e.RecordCount = int(v)
	}
	return e
}

func str(row storage.Row, key string) string {
	s, _ := row[key].(string)
	return s
}
