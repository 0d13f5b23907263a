// Package audit captures every sensitive access, change, and administrative
// action as an immutable structured event and delivers it to the audit store
// with at-least-once semantics.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is the fixed set of auditable actions.
type Action string

const (
	ActionCreate   Action = "CREATE"
	ActionRead     Action = "READ"
	ActionUpdate   Action = "UPDATE"
	ActionDelete   Action = "DELETE"
	ActionLogin    Action = "LOGIN"
	ActionLogout   Action = "LOGOUT"
	ActionExport   Action = "EXPORT"
	ActionImport   Action = "IMPORT"
	ActionEncrypt  Action = "ENCRYPT"
	ActionDecrypt  Action = "DECRYPT"
	ActionMask     Action = "MASK"
	ActionUnmask   Action = "UNMASK"
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionSuspend  Action = "SUSPEND"
	ActionActivate Action = "ACTIVATE"
)

// Severity classifies an event for monitoring and alert routing.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status records the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

// Event is an immutable record of one action taken against the system.
// Created once; never updated after persistence.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	TenantID      string         `json:"tenant_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	Action        Action         `json:"action"`
	ResourceType  string         `json:"resource_type,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	Description   string         `json:"description,omitempty"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	Severity      Severity       `json:"severity"`
	Status        Status         `json:"status"`
	Suspicious    bool           `json:"suspicious"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	SourceIP      string         `json:"source_ip,omitempty"`

	// RecordCount is caller-reported metadata on EXPORT/IMPORT events. The
	// bulk-export rule trusts it as-is; see the engine docs for the trust
	// boundary note.
	RecordCount int `json:"record_count,omitempty"`
}
