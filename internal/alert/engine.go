package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultrail/internal/audit"
	"vaultrail/internal/platform/metrics"
	"vaultrail/internal/storage"
	"vaultrail/pkg/platform/sentinel"
)

// Listener observes raised alerts. Listeners run synchronously on the
// evaluation goroutine, in registration order, after the alert has been
// persisted. A panicking listener is isolated; it never stops evaluation or
// the remaining listeners.
type Listener func(Alert)

// Engine consumes persisted audit events and evaluates every rule against
// each one. Evaluation is serial: one event at a time, rules in fixed order,
// a failing rule logged and skipped without affecting the others.
//
// The engine is the sole owner of alert lifecycle mutations; callers change
// alert status only through Transition.
type Engine struct {
	store    storage.Store
	rules    []Rule
	settings *settings

	mu        sync.Mutex
	listeners []Listener

	// transitionMu serializes Transition's read-check-update so a concurrent
	// call can never overwrite a terminal state.
	transitionMu sync.Mutex

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics wires alert counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRules replaces the default rule set. Intended for tests.
func WithRules(rules []Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// NewEngine builds an engine persisting alerts to store and reading its
// window counters from windows.
func NewEngine(store storage.Store, windows ActivityWindows, cfg RuleConfig, opts ...Option) *Engine {
	s := &settings{cfg: cfg}
	e := &Engine{
		store:    store,
		settings: s,
		rules:    defaultRules(windows, s),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpdateRules swaps the active thresholds. Takes effect on the next
// evaluated event; in-flight evaluation keeps the snapshot it read.
func (e *Engine) UpdateRules(cfg RuleConfig) {
	e.settings.set(cfg)
	e.logger.Info("alert rule thresholds updated")
}

// Rules returns the active thresholds.
func (e *Engine) Rules() RuleConfig {
	return e.settings.get()
}

// Subscribe registers a listener for subsequently raised alerts.
func (e *Engine) Subscribe(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Run tails the audit event feed until ctx is done. Each delivered row is
// rebuilt into an event and processed serially.
func (e *Engine) Run(ctx context.Context, feed storage.Feed) error {
	rows, cancel, err := feed.Subscribe(ctx, audit.EventsTable)
	if err != nil {
		return fmt.Errorf("subscribe to audit feed: %w", err)
	}
	defer cancel()

	e.logger.Info("alert engine started", "rules", len(e.rules))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			e.Process(ctx, audit.FromRow(row))
		}
	}
}

// Process evaluates one event against every rule. Rule errors are logged
// and evaluation continues; a rule failure never suppresses another rule's
// alert.
func (e *Engine) Process(ctx context.Context, event audit.Event) {
	for _, rule := range e.rules {
		alerts, err := rule.Evaluate(ctx, event)
		if err != nil {
			e.logger.Error("rule evaluation failed",
				"rule", rule.Type(), "event_id", event.ID,
				"error", fmt.Errorf("%v: %w", err, sentinel.ErrRuleEvaluation))
			continue
		}
		for _, a := range alerts {
			e.raise(ctx, a)
		}
	}
}

// raise persists the alert and then notifies listeners. Persistence failure
// drops the alert with an error log; listeners only ever see stored alerts.
func (e *Engine) raise(ctx context.Context, a Alert) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = e.now().UTC()
	}

	if _, err := e.store.Insert(ctx, AlertsTable, ToRow(a)); err != nil {
		e.logger.Error("alert persistence failed", "type", a.Type, "error", err)
		return
	}
	e.metrics.IncAlert(string(a.Type))
	e.logger.Warn("security alert raised",
		"type", a.Type, "severity", a.Severity, "title", a.Title, "source_event", a.SourceEventID)

	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		e.notify(fn, a)
	}
}

func (e *Engine) notify(fn Listener, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("alert listener panicked", "alert_id", a.ID, "panic", r)
		}
	}()
	fn(a)
}

// Get loads one alert by id.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (Alert, error) {
	row, err := e.store.SelectOne(ctx, AlertsTable, storage.Filter{"id": id.String()})
	if err != nil {
		return Alert{}, err
	}
	return FromRow(row), nil
}

// List returns alerts, optionally filtered by status, newest first.
func (e *Engine) List(ctx context.Context, status Status, limit int) ([]Alert, error) {
	opts := storage.QueryOptions{OrderBy: "triggered_at", Desc: true, Limit: limit}
	if status != "" {
		opts.Filter = storage.Filter{"status": string(status)}
	}
	rows, err := e.store.Select(ctx, AlertsTable, opts)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, FromRow(row))
	}
	return alerts, nil
}

// Transition moves an alert through its lifecycle. Illegal moves return
// ErrInvalidState; unknown ids return ErrNotFound.
func (e *Engine) Transition(ctx context.Context, id uuid.UUID, to Status, assignee, notes string) (Alert, error) {
	e.transitionMu.Lock()
	defer e.transitionMu.Unlock()

	a, err := e.Get(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	if err := a.transition(to, notes, e.now().UTC()); err != nil {
		return Alert{}, err
	}
	if assignee != "" {
		a.AssignedTo = assignee
	}

	patch := storage.Row{"status": string(a.Status)}
	if a.AssignedTo != "" {
		patch["assigned_to"] = a.AssignedTo
	}
	if a.AcknowledgedAt != nil {
		patch["acknowledged_at"] = a.AcknowledgedAt.UTC().Format(audit.TimeLayout)
	}
	if a.ResolvedAt != nil {
		patch["resolved_at"] = a.ResolvedAt.UTC().Format(audit.TimeLayout)
	}
	if a.ResolutionNotes != "" {
		patch["resolution_notes"] = a.ResolutionNotes
	}

	if _, err := e.store.Update(ctx, AlertsTable, patch, storage.Filter{"id": id.String()}); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Alert{}, err
		}
		return Alert{}, fmt.Errorf("persist alert transition: %w", err)
	}
	e.logger.Info("alert transitioned", "alert_id", id, "to", to)
	return a, nil
}
