package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaultrail/internal/audit"
)

type RulesSuite struct {
	suite.Suite
	ctx      context.Context
	windows  *MemoryWindows
	settings *settings
	base     time.Time
}

func TestRulesSuite(t *testing.T) {
	suite.Run(t, new(RulesSuite))
}

func (s *RulesSuite) SetupTest() {
	s.ctx = context.Background()
	s.windows = NewMemoryWindows()
	s.settings = &settings{cfg: DefaultRuleConfig()}
	s.base = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
}

func (s *RulesSuite) evalN(r Rule, n int, e audit.Event) []Alert {
	var last []Alert
	for i := range n {
		ev := e
		ev.Timestamp = s.base.Add(time.Duration(i) * time.Second)
		alerts, err := r.Evaluate(s.ctx, ev)
		s.Require().NoError(err)
		last = alerts
	}
	return last
}

func (s *RulesSuite) TestFailedLoginRule() {
	rule := &failedLoginRule{windows: s.windows, settings: s.settings}
	failed := audit.Event{ActorID: "u1", TenantID: "t1", Action: audit.ActionLogin, Status: audit.StatusFailure}

	s.Run("below threshold stays silent", func() {
		s.Empty(s.evalN(rule, 4, failed))
	})

	s.Run("fifth failure inside the window raises HIGH", func() {
		alerts := s.evalN(rule, 1, failed)
		s.Require().Len(alerts, 1)
		s.Equal(TypeFailedLogins, alerts[0].Type)
		s.Equal(audit.SeverityHigh, alerts[0].Severity)
		s.Equal(StatusOpen, alerts[0].Status)
	})

	s.Run("successful login does not count", func() {
		ok := failed
		ok.Status = audit.StatusSuccess
		alerts, err := rule.Evaluate(s.ctx, ok)
		s.Require().NoError(err)
		s.Empty(alerts)
	})

	s.Run("stale failures fall out of the window", func() {
		late := failed
		late.Timestamp = s.base.Add(20 * time.Minute)
		alerts, err := rule.Evaluate(s.ctx, late)
		s.Require().NoError(err)
		s.Empty(alerts)
	})

	s.Run("tenants do not share counters", func() {
		other := failed
		other.TenantID = "t2"
		other.Timestamp = s.base
		alerts, err := rule.Evaluate(s.ctx, other)
		s.Require().NoError(err)
		s.Empty(alerts)
	})
}

func (s *RulesSuite) TestRateLimitRule() {
	rule := &rateLimitRule{windows: s.windows, settings: s.settings}
	e := audit.Event{ActorID: "u1", TenantID: "t1", Action: audit.ActionRead}

	s.Empty(s.evalN(rule, 19, e))

	alerts := s.evalN(rule, 1, e)
	s.Require().Len(alerts, 1)
	s.Equal(TypeRateLimit, alerts[0].Type)
	s.Equal(audit.SeverityMedium, alerts[0].Severity)
}

func (s *RulesSuite) TestOffHoursRule() {
	rule := &offHoursRule{settings: s.settings}
	at := func(hour int) time.Time {
		return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
	}

	s.Run("sensitive action at night raises MEDIUM", func() {
		for _, hour := range []int{22, 23, 0, 3, 5} {
			e := audit.Event{ActorID: "u1", Action: audit.ActionDecrypt, Timestamp: at(hour)}
			alerts, err := rule.Evaluate(s.ctx, e)
			s.Require().NoError(err)
			s.Require().Len(alerts, 1, "hour %d", hour)
			s.Equal(TypeOffHoursAccess, alerts[0].Type)
			s.Equal(audit.SeverityMedium, alerts[0].Severity)
		}
	})

	s.Run("window boundaries", func() {
		for _, hour := range []int{6, 21} {
			e := audit.Event{ActorID: "u1", Action: audit.ActionExport, Timestamp: at(hour)}
			alerts, err := rule.Evaluate(s.ctx, e)
			s.Require().NoError(err)
			s.Empty(alerts, "hour %d", hour)
		}
	})

	s.Run("non-sensitive actions are ignored at any hour", func() {
		e := audit.Event{ActorID: "u1", Action: audit.ActionRead, Timestamp: at(23)}
		alerts, err := rule.Evaluate(s.ctx, e)
		s.Require().NoError(err)
		s.Empty(alerts)
	})
}

func (s *RulesSuite) TestBulkExportRule() {
	rule := &bulkExportRule{settings: s.settings}

	s.Run("below threshold stays silent", func() {
		e := audit.Event{ActorID: "u1", Action: audit.ActionExport, RecordCount: 999}
		alerts, err := rule.Evaluate(s.ctx, e)
		s.Require().NoError(err)
		s.Empty(alerts)
	})

	s.Run("threshold export raises HIGH", func() {
		e := audit.Event{ActorID: "u1", Action: audit.ActionExport, RecordCount: 1000}
		alerts, err := rule.Evaluate(s.ctx, e)
		s.Require().NoError(err)
		s.Require().Len(alerts, 1)
		s.Equal(TypeBulkExport, alerts[0].Type)
		s.Equal(audit.SeverityHigh, alerts[0].Severity)
	})

	s.Run("large non-export actions are ignored", func() {
		e := audit.Event{ActorID: "u1", Action: audit.ActionRead, RecordCount: 5000}
		alerts, err := rule.Evaluate(s.ctx, e)
		s.Require().NoError(err)
		s.Empty(alerts)
	})
}

func (s *RulesSuite) TestCriticalAdminRule() {
	rule := &criticalAdminRule{settings: s.settings}

	s.Run("delete on sensitive resource is CRITICAL", func() {
		e := audit.Event{ActorID: "admin", Action: audit.ActionDelete, ResourceType: "clients", ResourceID: "c-9"}
		alerts, err := rule.Evaluate(s.ctx, e)
		s.Require().NoError(err)
		s.Require().Len(alerts, 1)
		s.Equal(TypeCriticalAdminAction, alerts[0].Type)
		s.Equal(audit.SeverityCritical, alerts[0].Severity)
	})

	s.Run("suspend and activate also qualify", func() {
		for _, action := range []audit.Action{audit.ActionSuspend, audit.ActionActivate} {
			e := audit.Event{ActorID: "admin", Action: action, ResourceType: "users"}
			alerts, err := rule.Evaluate(s.ctx, e)
			s.Require().NoError(err)
			s.Len(alerts, 1)
		}
	})

	s.Run("non-sensitive resource stays silent", func() {
		e := audit.Event{ActorID: "admin", Action: audit.ActionDelete, ResourceType: "report"}
		alerts, err := rule.Evaluate(s.ctx, e)
		s.Require().NoError(err)
		s.Empty(alerts)
	})
}

func (s *RulesSuite) TestAnomalousAccessRule() {
	rule := &anomalousAccessRule{windows: s.windows, settings: s.settings}
	e := func(ip string) audit.Event {
		return audit.Event{ActorID: "u1", TenantID: "t1", Action: audit.ActionRead, SourceIP: ip, Timestamp: s.base}
	}

	s.Run("repeat addresses do not accumulate", func() {
		for range 5 {
			alerts, err := rule.Evaluate(s.ctx, e("10.0.0.1"))
			s.Require().NoError(err)
			s.Empty(alerts)
		}
	})

	s.Run("third distinct address raises HIGH", func() {
		alerts, err := rule.Evaluate(s.ctx, e("10.0.0.2"))
		s.Require().NoError(err)
		s.Empty(alerts)

		alerts, err = rule.Evaluate(s.ctx, e("10.0.0.3"))
		s.Require().NoError(err)
		s.Require().Len(alerts, 1)
		s.Equal(TypeAnomalousAccess, alerts[0].Type)
		s.Equal(audit.SeverityHigh, alerts[0].Severity)
	})

	s.Run("events without a source address are ignored", func() {
		alerts, err := rule.Evaluate(s.ctx, e(""))
		s.Require().NoError(err)
		s.Empty(alerts)
	})
}

func (s *RulesSuite) TestUpdateTakesEffectImmediately() {
	rule := &bulkExportRule{settings: s.settings}

	cfg := s.settings.get()
	cfg.BulkExportThreshold = 10
	s.settings.set(cfg)

	e := audit.Event{ActorID: "u1", Action: audit.ActionExport, RecordCount: 10}
	alerts, err := rule.Evaluate(s.ctx, e)
	s.Require().NoError(err)
	s.Len(alerts, 1)
}
