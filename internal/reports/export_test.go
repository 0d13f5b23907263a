package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vaultrail/internal/audit"
	"vaultrail/internal/storage"
)

type ExporterSuite struct {
	suite.Suite
	ctx      context.Context
	store    *storage.MemoryStore
	pipeline *audit.Pipeline
	exporter *Exporter
}

func TestExporterSuite(t *testing.T) {
	suite.Run(t, new(ExporterSuite))
}

func (s *ExporterSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = storage.NewMemoryStore()
	s.pipeline = audit.NewPipeline(audit.NewStoreSink(s.store), audit.WithBatchSize(1))
	s.exporter = NewExporter(s.store, s.pipeline)
}

func (s *ExporterSuite) seed(n int, actor string, action audit.Action) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := range n {
		e := audit.Event{
			ID:           uuid.New(),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			TenantID:     "t1",
			ActorID:      actor,
			Action:       action,
			ResourceType: "clients",
			Severity:     audit.SeverityLow,
			Status:       audit.StatusSuccess,
			SourceIP:     "10.0.0.1",
		}
		_, err := s.store.Insert(s.ctx, audit.EventsTable, audit.ToRow(e))
		s.Require().NoError(err)
	}
}

func (s *ExporterSuite) TestEvents() {
	s.seed(3, "u1", audit.ActionRead)
	s.seed(2, "u2", audit.ActionDelete)

	s.Run("unfiltered returns everything newest first", func() {
		events, err := s.exporter.Events(s.ctx, Query{})
		s.Require().NoError(err)
		s.Require().Len(events, 5)
		s.True(events[0].Timestamp.After(events[4].Timestamp))
	})

	s.Run("filter by actor", func() {
		events, err := s.exporter.Events(s.ctx, Query{ActorID: "u2"})
		s.Require().NoError(err)
		s.Len(events, 2)
	})

	s.Run("filter by action with limit", func() {
		events, err := s.exporter.Events(s.ctx, Query{Action: audit.ActionRead, Limit: 2})
		s.Require().NoError(err)
		s.Len(events, 2)
	})
}

func (s *ExporterSuite) TestEventsOrderOnSecondBoundary() {
	// Stored timestamps must sort lexicographically in time order even when
	// one event lands exactly on a second boundary.
	onBoundary := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	fractional := onBoundary.Add(500 * time.Millisecond)

	for _, ts := range []time.Time{onBoundary, fractional} {
		e := audit.Event{
			ID: uuid.New(), Timestamp: ts, ActorID: "u1",
			Action: audit.ActionRead, Severity: audit.SeverityLow, Status: audit.StatusSuccess,
		}
		_, err := s.store.Insert(s.ctx, audit.EventsTable, audit.ToRow(e))
		s.Require().NoError(err)
	}

	events, err := s.exporter.Events(s.ctx, Query{})
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.True(events[0].Timestamp.Equal(fractional))
	s.True(events[1].Timestamp.Equal(onBoundary))
}

func (s *ExporterSuite) TestWriteCSV() {
	s.seed(2, "u1", audit.ActionRead)
	sub := audit.Subject{TenantID: "t1", ActorID: "auditor"}

	var buf bytes.Buffer
	n, err := s.exporter.WriteCSV(s.ctx, &buf, Query{}, sub)
	s.Require().NoError(err)
	s.Equal(2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	s.Require().NoError(err)
	s.Require().Len(records, 3)

	s.Run("header keeps the contracted column order", func() {
		s.Equal([]string{
			"timestamp", "actor_id", "action", "resource_type", "description",
			"severity", "status", "source_ip", "suspicious", "tenant_id", "resource_id",
		}, records[0])
	})

	s.Run("data rows carry event fields at the contracted positions", func() {
		s.Equal("u1", records[1][1])
		s.Equal("READ", records[1][2])
		s.Equal("clients", records[1][3])
		s.Equal("10.0.0.1", records[1][7])
		s.Equal("false", records[1][8])
		s.Equal("t1", records[1][9])
	})

	s.Run("export itself is audited with the row count", func() {
		rows, err := s.store.Select(s.ctx, audit.EventsTable, storage.QueryOptions{
			Filter: storage.Filter{"action": string(audit.ActionExport)},
		})
		s.Require().NoError(err)
		s.Require().Len(rows, 1)

		e := audit.FromRow(rows[0])
		s.Equal("auditor", e.ActorID)
		s.Equal(2, e.RecordCount)
	})
}

func (s *ExporterSuite) TestWriteCSVEmptyResult() {
	var buf bytes.Buffer
	n, err := s.exporter.WriteCSV(s.ctx, &buf, Query{ActorID: "nobody"}, audit.Subject{ActorID: "auditor"})
	s.Require().NoError(err)
	s.Equal(0, n)

	records, err := csv.NewReader(&buf).ReadAll()
	s.Require().NoError(err)
	s.Len(records, 1)
}
