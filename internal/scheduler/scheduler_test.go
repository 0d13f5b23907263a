package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaultrail/internal/audit"
	"vaultrail/internal/keys"
	"vaultrail/internal/storage"
)

type SchedulerSuite struct {
	suite.Suite
	ctx      context.Context
	store    *storage.MemoryStore
	pipeline *audit.Pipeline
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = storage.NewMemoryStore()
	s.pipeline = audit.NewPipeline(audit.NewStoreSink(s.store), audit.WithBatchSize(1))
}

func (s *SchedulerSuite) auditedDescriptions() []string {
	rows, err := s.store.Select(s.ctx, audit.EventsTable, storage.QueryOptions{})
	s.Require().NoError(err)
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, audit.FromRow(row).Description)
	}
	return out
}

func (s *SchedulerSuite) TestRunOnceSkipsYoungKey() {
	manager, err := keys.NewManager()
	s.Require().NoError(err)

	sched := New(manager, s.pipeline, "0 3 * * *", 90*24*time.Hour, nil)
	sched.RunOnce(s.ctx)

	s.Equal(1, manager.ActiveVersion())
	s.Empty(s.auditedDescriptions())
}

func (s *SchedulerSuite) TestRunOnceRotatesDueKey() {
	manager, err := keys.NewManager()
	s.Require().NoError(err)

	// Zero interval makes any key immediately due.
	sched := New(manager, s.pipeline, "0 3 * * *", 0, nil)
	sched.RunOnce(s.ctx)

	s.Equal(2, manager.ActiveVersion())

	descs := s.auditedDescriptions()
	s.Require().Len(descs, 1)
	s.Contains(descs[0], "scheduled key rotation")
	s.Contains(descs[0], "v2 activated")
}

func (s *SchedulerSuite) TestRunOncePurgesExpiredKeys() {
	manager, err := keys.NewManager(keys.WithExpiryHorizon(-time.Second))
	s.Require().NoError(err)
	_, err = manager.Rotate()
	s.Require().NoError(err)

	sched := New(manager, s.pipeline, "0 3 * * *", 90*24*time.Hour, nil)
	sched.RunOnce(s.ctx)

	s.Require().Len(manager.Info(), 1)
	descs := s.auditedDescriptions()
	s.Require().Len(descs, 1)
	s.Contains(descs[0], "purged 1 expired keys")
}

func (s *SchedulerSuite) TestStartRejectsBadSpec() {
	manager, err := keys.NewManager()
	s.Require().NoError(err)

	sched := New(manager, s.pipeline, "not a cron spec", time.Hour, nil)
	s.Error(sched.Start())
}

func (s *SchedulerSuite) TestStartAndStop() {
	manager, err := keys.NewManager()
	s.Require().NoError(err)

	sched := New(manager, s.pipeline, "0 3 * * *", time.Hour, nil)
	s.Require().NoError(sched.Start())
	sched.Stop()
}
