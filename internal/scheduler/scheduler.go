// Package scheduler drives time-based key maintenance: rotation on a cron
// cadence once the active key outlives its interval, and purge of retired
// keys past their expiry horizon.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"vaultrail/internal/audit"
	"vaultrail/internal/keys"
)

const systemActor = "system:scheduler"

// Scheduler checks the active key's age on each cron tick and rotates when
// the rotation interval has elapsed. Every run also purges expired retired
// keys. Both outcomes are audited.
type Scheduler struct {
	manager  *keys.Manager
	pipeline *audit.Pipeline
	logger   *slog.Logger

	interval time.Duration
	spec     string

	cron *cron.Cron
}

// New builds a scheduler. spec is a standard 5-field cron expression; the
// interval is the minimum active-key age before a tick actually rotates.
func New(manager *keys.Manager, pipeline *audit.Pipeline, spec string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		manager:  manager,
		pipeline: pipeline,
		logger:   logger,
		interval: interval,
		spec:     spec,
		cron:     cron.New(),
	}
}

// Start registers the maintenance job and begins ticking.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(context.Background()) })
	if err != nil {
		return fmt.Errorf("schedule key maintenance %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("key maintenance scheduled", "spec", s.spec, "interval", s.interval)
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce executes one maintenance pass: rotate if due, then purge.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.maybeRotate(ctx)
	s.purge(ctx)
}

func (s *Scheduler) maybeRotate(ctx context.Context) {
	active, err := s.manager.Active()
	if err != nil {
		s.logger.Error("rotation check failed", "error", err)
		return
	}
	age := time.Since(active.CreatedAt)
	if age < s.interval {
		s.logger.Debug("active key within rotation interval", "version", active.Version, "age", age)
		return
	}

	next, err := s.manager.Rotate()
	if err != nil {
		s.logger.Error("scheduled rotation failed", "error", err)
		s.audit(ctx, audit.StatusError,
			fmt.Sprintf("scheduled key rotation failed: %v", err))
		return
	}
	s.audit(ctx, audit.StatusSuccess,
		fmt.Sprintf("scheduled key rotation: v%d activated, v%d retired", next.Version, next.Version-1))
}

func (s *Scheduler) purge(ctx context.Context) {
	if removed := s.manager.PurgeExpired(); removed > 0 {
		s.audit(ctx, audit.StatusSuccess,
			fmt.Sprintf("purged %d expired keys", removed))
	}
}

func (s *Scheduler) audit(ctx context.Context, status audit.Status, description string) {
	severity := audit.SeverityMedium
	if status != audit.StatusSuccess {
		severity = audit.SeverityHigh
	}
	s.pipeline.Enqueue(ctx, audit.Event{
		ActorID:      systemActor,
		Action:       audit.ActionUpdate,
		ResourceType: "encryption_key",
		Description:  description,
		Severity:     severity,
		Status:       status,
	})
}
