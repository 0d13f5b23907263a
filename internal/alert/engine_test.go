package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vaultrail/internal/audit"
	"vaultrail/internal/storage"
	"vaultrail/pkg/platform/sentinel"
)

type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	store  *storage.MemoryStore
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = storage.NewMemoryStore()
	s.engine = NewEngine(s.store, NewMemoryWindows(), DefaultRuleConfig())
}

func (s *EngineSuite) exportEvent(count int) audit.Event {
	return audit.Event{
		ID:          uuid.New(),
		Timestamp:   time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		ActorID:     "u1",
		TenantID:    "t1",
		Action:      audit.ActionExport,
		RecordCount: count,
	}
}

func (s *EngineSuite) TestProcessPersistsRaisedAlerts() {
	s.engine.Process(s.ctx, s.exportEvent(2000))

	alerts, err := s.engine.List(s.ctx, "", 0)
	s.Require().NoError(err)
	s.Require().Len(alerts, 1)
	s.Equal(TypeBulkExport, alerts[0].Type)
	s.Equal(StatusOpen, alerts[0].Status)
	s.NotEqual(uuid.Nil, alerts[0].ID)
}

func (s *EngineSuite) TestOneEventCanRaiseSeveralAlerts() {
	e := s.exportEvent(2000)
	e.Timestamp = time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	s.engine.Process(s.ctx, e)

	alerts, err := s.engine.List(s.ctx, "", 0)
	s.Require().NoError(err)

	types := make(map[Type]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	s.True(types[TypeBulkExport])
	s.True(types[TypeOffHoursAccess])
}

func (s *EngineSuite) TestDeleteOnDefaultProtectedTableIsCritical() {
	// The gateway stamps events with the table name as resource type, so the
	// default sensitive-resource list must match the default protected tables.
	for _, table := range []string{"clients", "cards", "users"} {
		s.engine.Process(s.ctx, audit.Event{
			ID:           uuid.New(),
			Timestamp:    time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
			ActorID:      "admin",
			TenantID:     "t1",
			Action:       audit.ActionDelete,
			ResourceType: table,
		})
	}

	alerts, err := s.engine.List(s.ctx, "", 0)
	s.Require().NoError(err)

	var critical int
	for _, a := range alerts {
		if a.Type == TypeCriticalAdminAction {
			critical++
			s.Equal(audit.SeverityCritical, a.Severity)
		}
	}
	s.Equal(3, critical)
}

type erroringRule struct{}

func (erroringRule) Type() Type { return Type("ERRORING") }
func (erroringRule) Evaluate(context.Context, audit.Event) ([]Alert, error) {
	return nil, errors.New("window store down")
}

func (s *EngineSuite) TestRuleErrorDoesNotSuppressOtherRules() {
	shared := &settings{cfg: DefaultRuleConfig()}
	engine := NewEngine(s.store, NewMemoryWindows(), DefaultRuleConfig(),
		WithRules([]Rule{erroringRule{}, &bulkExportRule{settings: shared}}))

	engine.Process(s.ctx, s.exportEvent(2000))

	alerts, err := engine.List(s.ctx, "", 0)
	s.Require().NoError(err)
	s.Require().Len(alerts, 1)
	s.Equal(TypeBulkExport, alerts[0].Type)
}

func (s *EngineSuite) TestListeners() {
	s.Run("run in registration order after persistence", func() {
		var order []string
		s.engine.Subscribe(func(a Alert) {
			// The alert is already queryable when listeners fire.
			stored, err := s.engine.Get(s.ctx, a.ID)
			s.NoError(err)
			s.Equal(a.ID, stored.ID)
			order = append(order, "first")
		})
		s.engine.Subscribe(func(Alert) { order = append(order, "second") })

		s.engine.Process(s.ctx, s.exportEvent(2000))
		s.Equal([]string{"first", "second"}, order)
	})

	s.Run("panicking listener is isolated", func() {
		engine := NewEngine(s.store, NewMemoryWindows(), DefaultRuleConfig())
		var reached bool
		engine.Subscribe(func(Alert) { panic("listener bug") })
		engine.Subscribe(func(Alert) { reached = true })

		engine.Process(s.ctx, s.exportEvent(2000))
		s.True(reached)
	})
}

func (s *EngineSuite) TestPersistenceFailureSkipsListeners() {
	s.store.FailWrites = true
	var notified bool
	s.engine.Subscribe(func(Alert) { notified = true })

	s.engine.Process(s.ctx, s.exportEvent(2000))
	s.False(notified)
}

func (s *EngineSuite) raised() Alert {
	s.engine.Process(s.ctx, s.exportEvent(2000))
	alerts, err := s.engine.List(s.ctx, StatusOpen, 1)
	s.Require().NoError(err)
	s.Require().NotEmpty(alerts)
	return alerts[0]
}

func (s *EngineSuite) TestTransition() {
	a := s.raised()

	s.Run("open to investigating stamps acknowledgement", func() {
		updated, err := s.engine.Transition(s.ctx, a.ID, StatusInvestigating, "analyst-7", "")
		s.Require().NoError(err)
		s.Equal(StatusInvestigating, updated.Status)
		s.Equal("analyst-7", updated.AssignedTo)
		s.NotNil(updated.AcknowledgedAt)
	})

	s.Run("investigating to resolved stamps resolution", func() {
		updated, err := s.engine.Transition(s.ctx, a.ID, StatusResolved, "", "expected batch job")
		s.Require().NoError(err)
		s.Equal(StatusResolved, updated.Status)
		s.Equal("expected batch job", updated.ResolutionNotes)
		s.NotNil(updated.ResolvedAt)
	})

	s.Run("resolved is terminal", func() {
		_, err := s.engine.Transition(s.ctx, a.ID, StatusOpen, "", "")
		s.ErrorIs(err, sentinel.ErrInvalidState)

		_, err = s.engine.Transition(s.ctx, a.ID, StatusInvestigating, "", "")
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *EngineSuite) TestTransitionShortcuts() {
	s.Run("open straight to resolved", func() {
		a := s.raised()
		updated, err := s.engine.Transition(s.ctx, a.ID, StatusResolved, "", "noise")
		s.Require().NoError(err)
		s.Equal(StatusResolved, updated.Status)
	})

	s.Run("open straight to false positive", func() {
		a := s.raised()
		updated, err := s.engine.Transition(s.ctx, a.ID, StatusFalsePositive, "", "test traffic")
		s.Require().NoError(err)
		s.Equal(StatusFalsePositive, updated.Status)
		s.NotNil(updated.ResolvedAt)
	})

	s.Run("unknown alert id", func() {
		_, err := s.engine.Transition(s.ctx, uuid.New(), StatusResolved, "", "")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *EngineSuite) TestConcurrentTransitionsKeepTerminalState() {
	a := s.raised()

	targets := []Status{StatusResolved, StatusFalsePositive}
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.engine.Transition(s.ctx, a.ID, to, "", "")
		}()
	}
	wg.Wait()

	// Exactly one call wins; the loser must see the terminal state, never
	// overwrite it.
	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			s.ErrorIs(err, sentinel.ErrInvalidState)
			lost++
		}
	}
	s.Equal(1, won)
	s.Equal(1, lost)

	final, err := s.engine.Get(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Contains(targets, final.Status)
	_, err = s.engine.Transition(s.ctx, a.ID, StatusInvestigating, "", "")
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *EngineSuite) TestRunConsumesFeed() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	go func() { _ = s.engine.Run(ctx, s.store) }()

	// Give the subscription a moment to attach before publishing.
	time.Sleep(20 * time.Millisecond)

	_, err := s.store.Insert(s.ctx, audit.EventsTable, audit.ToRow(s.exportEvent(2000)))
	s.Require().NoError(err)

	s.Eventually(func() bool {
		alerts, err := s.engine.List(s.ctx, "", 0)
		return err == nil && len(alerts) == 1
	}, time.Second, 10*time.Millisecond)
}

func (s *EngineSuite) TestUpdateRules() {
	cfg := s.engine.Rules()
	cfg.BulkExportThreshold = 50
	s.engine.UpdateRules(cfg)

	s.engine.Process(s.ctx, s.exportEvent(60))

	alerts, err := s.engine.List(s.ctx, "", 0)
	s.Require().NoError(err)
	s.Len(alerts, 1)
}
