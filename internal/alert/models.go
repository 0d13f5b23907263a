// Package alert evaluates persisted audit events against a fixed rule set
// and owns the lifecycle of the security alerts those rules raise.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"vaultrail/internal/audit"
	"vaultrail/pkg/platform/sentinel"
)

// Type identifies which rule raised an alert.
type Type string

const (
	TypeFailedLogins        Type = "FAILED_LOGIN_ATTEMPTS"
	TypeRateLimit           Type = "RATE_LIMIT_EXCEEDED"
	TypeOffHoursAccess      Type = "OFF_HOURS_ACCESS"
	TypeBulkExport          Type = "BULK_EXPORT"
	TypeCriticalAdminAction Type = "CRITICAL_ADMIN_ACTION"
	TypeAnomalousAccess     Type = "ANOMALOUS_ACCESS"
)

// Status is the alert lifecycle state. Transitions form a strict forward
// state machine; OPEN is the only legal initial state.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusInvestigating Status = "INVESTIGATING"
	StatusResolved      Status = "RESOLVED"
	StatusFalsePositive Status = "FALSE_POSITIVE"
)

// legalTransitions enumerates the forward state machine. Anything absent is
// rejected, never silently applied.
var legalTransitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusResolved, StatusFalsePositive},
	StatusInvestigating: {StatusResolved, StatusFalsePositive},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Alert is a derived, mutable-lifecycle record raised when audit events
// match a security rule. Only the engine mutates its status.
type Alert struct {
	ID              uuid.UUID      `json:"id"`
	SourceEventID   uuid.UUID      `json:"source_event_id"`
	Type            Type           `json:"type"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Severity        audit.Severity `json:"severity"`
	Status          Status         `json:"status"`
	TriggeredAt     time.Time      `json:"triggered_at"`
	AssignedTo      string         `json:"assigned_to,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
}

// transition applies a lifecycle move in place, stamping the matching
// timestamp. Illegal moves return ErrInvalidState and leave the alert
// untouched.
func (a *Alert) transition(to Status, notes string, now time.Time) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("alert %s: %s -> %s: %w", a.ID, a.Status, to, sentinel.ErrInvalidState)
	}
	switch to {
	case StatusInvestigating:
		a.AcknowledgedAt = &now
	case StatusResolved, StatusFalsePositive:
		a.ResolvedAt = &now
		if notes != "" {
			a.ResolutionNotes = notes
		}
	}
	a.Status = to
	return nil
}
