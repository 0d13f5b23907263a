package audit

import "context"

// Convenience constructors for the common action kinds. Every one of them
// funnels through Enqueue — no action type bypasses batching.

// Subject identifies who did what from where. Gateways and handlers build
// one per request.
type Subject struct {
	TenantID      string
	ActorID       string
	SessionID     string
	CorrelationID string
	SourceIP      string
}

func (s Subject) Apply(e *Event) {
	e.TenantID = s.TenantID
	e.ActorID = s.ActorID
	e.SessionID = s.SessionID
	e.CorrelationID = s.CorrelationID
	e.SourceIP = s.SourceIP
}

// LogCreate records a successful resource creation.
func (p *Pipeline) LogCreate(ctx context.Context, sub Subject, resourceType, resourceID string, newValues map[string]any) {
	e := Event{Action: ActionCreate, ResourceType: resourceType, ResourceID: resourceID, NewValues: newValues}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogRead records a read of a sensitive resource.
func (p *Pipeline) LogRead(ctx context.Context, sub Subject, resourceType, resourceID string) {
	e := Event{Action: ActionRead, ResourceType: resourceType, ResourceID: resourceID}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogUpdate records a mutation with before/after snapshots.
func (p *Pipeline) LogUpdate(ctx context.Context, sub Subject, resourceType, resourceID string, oldValues, newValues map[string]any) {
	e := Event{Action: ActionUpdate, ResourceType: resourceType, ResourceID: resourceID, OldValues: oldValues, NewValues: newValues, Severity: SeverityMedium}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogDelete records a deletion with the removed snapshot.
func (p *Pipeline) LogDelete(ctx context.Context, sub Subject, resourceType, resourceID string, oldValues map[string]any) {
	e := Event{Action: ActionDelete, ResourceType: resourceType, ResourceID: resourceID, OldValues: oldValues, Severity: SeverityHigh}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogLogin records an authentication attempt.
func (p *Pipeline) LogLogin(ctx context.Context, sub Subject, success bool, description string) {
	e := Event{Action: ActionLogin, Description: description}
	if !success {
		e.Status = StatusFailure
		e.Severity = SeverityMedium
	}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogLogout records a session end.
func (p *Pipeline) LogLogout(ctx context.Context, sub Subject) {
	e := Event{Action: ActionLogout}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogExport records a data export with the caller-reported record count.
func (p *Pipeline) LogExport(ctx context.Context, sub Subject, resourceType string, recordCount int) {
	e := Event{Action: ActionExport, ResourceType: resourceType, RecordCount: recordCount, Severity: SeverityMedium}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogSuspicious records activity flagged by a caller as suspicious.
func (p *Pipeline) LogSuspicious(ctx context.Context, sub Subject, action Action, description string) {
	e := Event{Action: action, Description: description, Suspicious: true, Severity: SeverityHigh, Status: StatusWarning}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}

// LogError records a failed operation. The audit trail entry exists even
// when the operation itself did not.
func (p *Pipeline) LogError(ctx context.Context, sub Subject, action Action, resourceType, description string) {
	e := Event{Action: action, ResourceType: resourceType, Description: description, Status: StatusError, Severity: SeverityMedium}
	sub.Apply(&e)
	p.Enqueue(ctx, e)
}
