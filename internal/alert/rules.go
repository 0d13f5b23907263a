package alert

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"vaultrail/internal/audit"
)

// Rule is one independent security check. Rules never short-circuit each
// other: a single audit event may trigger zero, one, or several alerts.
type Rule interface {
	Type() Type
	Evaluate(ctx context.Context, e audit.Event) ([]Alert, error)
}

// RuleConfig carries the thresholds and windows for the fixed rule set.
// All values are runtime-overridable through Engine.UpdateRules.
type RuleConfig struct {
	FailedLoginThreshold int           `json:"failed_login_threshold"`
	FailedLoginWindow    time.Duration `json:"failed_login_window"`
	RateLimitThreshold   int           `json:"rate_limit_threshold"`
	RateLimitWindow      time.Duration `json:"rate_limit_window"`
	NightStartHour       int           `json:"night_start_hour"`
	NightEndHour         int           `json:"night_end_hour"`
	BulkExportThreshold  int           `json:"bulk_export_threshold"`
	AnomalousIPThreshold int           `json:"anomalous_ip_threshold"`
	AnomalousIPWindow    time.Duration `json:"anomalous_ip_window"`
	SensitiveResources   []string      `json:"sensitive_resources"`
}

// DefaultRuleConfig returns the documented defaults.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		FailedLoginThreshold: 5,
		FailedLoginWindow:    15 * time.Minute,
		RateLimitThreshold:   20,
		RateLimitWindow:      5 * time.Minute,
		NightStartHour:       22,
		NightEndHour:         6,
		BulkExportThreshold:  1000,
		AnomalousIPThreshold: 3,
		AnomalousIPWindow:    30 * time.Minute,
		// Matches the default protected tables; gateway events carry the
		// table name as their resource type.
		SensitiveResources: []string{"clients", "cards", "users"},
	}
}

// settings shares one mutable RuleConfig across all rules so a runtime
// update applies to the whole set atomically.
type settings struct {
	mu  sync.RWMutex
	cfg RuleConfig
}

func (s *settings) get() RuleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *settings) set(cfg RuleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// actorKey isolates window counters per tenant: the same actor id under two
// tenants never shares a counter.
func actorKey(e audit.Event) string {
	return e.TenantID + ":" + e.ActorID
}

func newAlert(e audit.Event, t Type, severity audit.Severity, title, message string) Alert {
	return Alert{
		SourceEventID: e.ID,
		Type:          t,
		Title:         title,
		Message:       message,
		Severity:      severity,
		Status:        StatusOpen,
		TriggeredAt:   time.Now().UTC(),
	}
}

// DefaultRules builds the fixed rule set over the given window store and
// shared settings.
func defaultRules(windows ActivityWindows, s *settings) []Rule {
	return []Rule{
		&failedLoginRule{windows: windows, settings: s},
		&rateLimitRule{windows: windows, settings: s},
		&offHoursRule{settings: s},
		&bulkExportRule{settings: s},
		&criticalAdminRule{settings: s},
		&anomalousAccessRule{windows: windows, settings: s},
	}
}

// failedLoginRule: repeated non-success LOGIN events for one actor inside a
// trailing window. Retriggers on every failure past the threshold — each
// continued attempt is fresh signal.
type failedLoginRule struct {
	windows  ActivityWindows
	settings *settings
}

func (r *failedLoginRule) Type() Type { return TypeFailedLogins }

func (r *failedLoginRule) Evaluate(ctx context.Context, e audit.Event) ([]Alert, error) {
	if e.Action != audit.ActionLogin || e.Status == audit.StatusSuccess {
		return nil, nil
	}
	cfg := r.settings.get()
	count, err := r.windows.RecordEvent(ctx, "login_fail:"+actorKey(e), e.Timestamp, cfg.FailedLoginWindow)
	if err != nil {
		return nil, err
	}
	if count < cfg.FailedLoginThreshold {
		return nil, nil
	}
	a := newAlert(e, TypeFailedLogins, audit.SeverityHigh,
		"Repeated failed login attempts",
		fmt.Sprintf("actor %s failed to authenticate %d times within %s", e.ActorID, count, cfg.FailedLoginWindow))
	return []Alert{a}, nil
}

// rateLimitRule: overall event volume for one actor inside a trailing window.
type rateLimitRule struct {
	windows  ActivityWindows
	settings *settings
}

func (r *rateLimitRule) Type() Type { return TypeRateLimit }

func (r *rateLimitRule) Evaluate(ctx context.Context, e audit.Event) ([]Alert, error) {
	if e.ActorID == "" {
		return nil, nil
	}
	cfg := r.settings.get()
	count, err := r.windows.RecordEvent(ctx, "rate:"+actorKey(e), e.Timestamp, cfg.RateLimitWindow)
	if err != nil {
		return nil, err
	}
	if count < cfg.RateLimitThreshold {
		return nil, nil
	}
	a := newAlert(e, TypeRateLimit, audit.SeverityMedium,
		"Unusual activity volume",
		fmt.Sprintf("actor %s generated %d events within %s", e.ActorID, count, cfg.RateLimitWindow))
	return []Alert{a}, nil
}

// offHoursRule: sensitive access (DECRYPT, EXPORT, DELETE) during the
// configured night window.
type offHoursRule struct {
	settings *settings
}

func (r *offHoursRule) Type() Type { return TypeOffHoursAccess }

func (r *offHoursRule) Evaluate(_ context.Context, e audit.Event) ([]Alert, error) {
	switch e.Action {
	case audit.ActionDecrypt, audit.ActionExport, audit.ActionDelete:
	default:
		return nil, nil
	}
	cfg := r.settings.get()
	hour := e.Timestamp.Hour()

	var night bool
	if cfg.NightStartHour > cfg.NightEndHour {
		// Window wraps midnight, e.g. 22:00-06:00.
		night = hour >= cfg.NightStartHour || hour < cfg.NightEndHour
	} else {
		night = hour >= cfg.NightStartHour && hour < cfg.NightEndHour
	}
	if !night {
		return nil, nil
	}
	a := newAlert(e, TypeOffHoursAccess, audit.SeverityMedium,
		"Sensitive access outside business hours",
		fmt.Sprintf("actor %s performed %s on %s at %02d:00h", e.ActorID, e.Action, e.ResourceType, hour))
	return []Alert{a}, nil
}

// bulkExportRule: EXPORT events whose record count meets the threshold.
// The count is caller-reported metadata, not independently verified — see
// the package docs for the trust boundary note.
type bulkExportRule struct {
	settings *settings
}

func (r *bulkExportRule) Type() Type { return TypeBulkExport }

func (r *bulkExportRule) Evaluate(_ context.Context, e audit.Event) ([]Alert, error) {
	cfg := r.settings.get()
	if e.Action != audit.ActionExport || e.RecordCount < cfg.BulkExportThreshold {
		return nil, nil
	}
	a := newAlert(e, TypeBulkExport, audit.SeverityHigh,
		"Bulk data export",
		fmt.Sprintf("actor %s exported %d records from %s", e.ActorID, e.RecordCount, e.ResourceType))
	return []Alert{a}, nil
}

// criticalAdminRule: DELETE/SUSPEND/ACTIVATE on a configured sensitive
// resource type.
type criticalAdminRule struct {
	settings *settings
}

func (r *criticalAdminRule) Type() Type { return TypeCriticalAdminAction }

func (r *criticalAdminRule) Evaluate(_ context.Context, e audit.Event) ([]Alert, error) {
	switch e.Action {
	case audit.ActionDelete, audit.ActionSuspend, audit.ActionActivate:
	default:
		return nil, nil
	}
	cfg := r.settings.get()
	if !slices.Contains(cfg.SensitiveResources, e.ResourceType) {
		return nil, nil
	}
	a := newAlert(e, TypeCriticalAdminAction, audit.SeverityCritical,
		"Critical administrative action",
		fmt.Sprintf("actor %s performed %s on sensitive resource %s/%s", e.ActorID, e.Action, e.ResourceType, e.ResourceID))
	return []Alert{a}, nil
}

// anomalousAccessRule: one actor observed from several distinct source
// addresses inside a trailing window.
type anomalousAccessRule struct {
	windows  ActivityWindows
	settings *settings
}

func (r *anomalousAccessRule) Type() Type { return TypeAnomalousAccess }

func (r *anomalousAccessRule) Evaluate(ctx context.Context, e audit.Event) ([]Alert, error) {
	if e.ActorID == "" || e.SourceIP == "" {
		return nil, nil
	}
	cfg := r.settings.get()
	distinct, err := r.windows.RecordSource(ctx, actorKey(e), e.SourceIP, e.Timestamp, cfg.AnomalousIPWindow)
	if err != nil {
		return nil, err
	}
	if distinct < cfg.AnomalousIPThreshold {
		return nil, nil
	}
	a := newAlert(e, TypeAnomalousAccess, audit.SeverityHigh,
		"Anomalous access pattern",
		fmt.Sprintf("actor %s seen from %d distinct addresses within %s", e.ActorID, distinct, cfg.AnomalousIPWindow))
	return []Alert{a}, nil
}
