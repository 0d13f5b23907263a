package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"vaultrail/internal/alert"
	"vaultrail/internal/audit"
	"vaultrail/internal/crypto"
	"vaultrail/internal/gateway"
	"vaultrail/internal/keys"
	"vaultrail/internal/masking"
	"vaultrail/internal/protection"
	"vaultrail/internal/reports"
	"vaultrail/internal/storage"
	"vaultrail/pkg/platform/middleware/auth"
)

const testSigningKey = "test-signing-key"

type HandlersSuite struct {
	suite.Suite
	store    *storage.MemoryStore
	pipeline *audit.Pipeline
	engine   *alert.Engine
	router   http.Handler
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = storage.NewMemoryStore()

	manager, err := keys.NewManager()
	s.Require().NoError(err)
	policy := protection.NewPolicy(crypto.NewService(manager))
	registry := protection.NewRegistry(map[string][]protection.FieldConfig{
		"clients": {{Field: "national_id", Type: masking.TypeNationalID}},
	})

	s.pipeline = audit.NewPipeline(audit.NewStoreSink(s.store), audit.WithBatchSize(1))
	s.engine = alert.NewEngine(s.store, alert.NewMemoryWindows(), alert.DefaultRuleConfig())
	gw := gateway.New(s.store, policy, registry, s.pipeline)
	exporter := reports.NewExporter(s.store, s.pipeline)

	handler := NewHandler(gw, s.pipeline, manager, s.engine, exporter, logger)
	s.router = NewRouter(handler, auth.NewVerifier(testSigningKey), logger)
}

func (s *HandlersSuite) token(subject string, scopes ...string) string {
	claims := jwt.MapClaims{
		"sub":       subject,
		"tenant_id": "t1",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"scopes":    scopes,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	s.Require().NoError(err)
	return token
}

func (s *HandlersSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlersSuite) decode(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *HandlersSuite) TestHealthIsPublic() {
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ok", s.decode(rec)["status"])
}

func (s *HandlersSuite) TestAuth() {
	s.Run("missing token is rejected", func() {
		rec := s.do(http.MethodGet, "/v1/records/clients", "", nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("garbage token is rejected", func() {
		rec := s.do(http.MethodGet, "/v1/records/clients", "not.a.token", nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("admin routes need the admin scope", func() {
		rec := s.do(http.MethodPost, "/v1/keys/rotate", s.token("u1"), nil)
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *HandlersSuite) TestRecordRoundTrip() {
	body := map[string]any{"name": "Joao", "national_id": "12345678901"}

	rec := s.do(http.MethodPost, "/v1/records/clients", s.token("writer"), body)
	s.Require().Equal(http.StatusCreated, rec.Code)
	created := s.decode(rec)
	id := created["id"].(string)

	s.Run("plain read sees the masked value", func() {
		rec := s.do(http.MethodGet, "/v1/records/clients/"+id, s.token("reader"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("***.***.***-01", s.decode(rec)["national_id"])
	})

	s.Run("reveal scope sees plaintext", func() {
		rec := s.do(http.MethodGet, "/v1/records/clients/"+id, s.token("reader", "pii:reveal"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("12345678901", s.decode(rec)["national_id"])
	})

	s.Run("patch and delete", func() {
		rec := s.do(http.MethodPatch, "/v1/records/clients/"+id, s.token("writer"), map[string]any{"name": "Maria"})
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("Maria", s.decode(rec)["name"])

		rec = s.do(http.MethodDelete, "/v1/records/clients/"+id, s.token("writer"), nil)
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.do(http.MethodGet, "/v1/records/clients/"+id, s.token("reader"), nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlersSuite) TestDeleteOnProtectedTableRaisesCriticalAlert() {
	rec := s.do(http.MethodPost, "/v1/records/clients", s.token("writer"),
		map[string]any{"name": "Joao", "national_id": "12345678901"})
	s.Require().Equal(http.StatusCreated, rec.Code)
	id := s.decode(rec)["id"].(string)

	rec = s.do(http.MethodDelete, "/v1/records/clients/"+id, s.token("writer"), nil)
	s.Require().Equal(http.StatusNoContent, rec.Code)

	// Feed the persisted DELETE event through the engine the way the change
	// feed would.
	ctx := context.Background()
	rows, err := s.store.Select(ctx, audit.EventsTable, storage.QueryOptions{
		Filter: storage.Filter{"action": string(audit.ActionDelete)},
	})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.engine.Process(ctx, audit.FromRow(rows[0]))

	rec = s.do(http.MethodGet, "/v1/alerts", s.token("analyst"), nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var critical bool
	for _, item := range s.decode(rec)["items"].([]any) {
		if item.(map[string]any)["type"] == string(alert.TypeCriticalAdminAction) {
			critical = true
		}
	}
	s.True(critical)
}

func (s *HandlersSuite) TestAuditEndpoints() {
	s.do(http.MethodPost, "/v1/records/clients", s.token("writer"),
		map[string]any{"name": "Joao", "national_id": "12345678901"})

	s.Run("events listing", func() {
		rec := s.do(http.MethodGet, "/v1/audit/events", s.token("auditor"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.GreaterOrEqual(s.decode(rec)["count"].(float64), float64(1))
	})

	s.Run("csv export", func() {
		rec := s.do(http.MethodGet, "/v1/audit/export", s.token("auditor"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("text/csv", rec.Header().Get("Content-Type"))
		s.Contains(rec.Body.String(), "timestamp,")
	})

	s.Run("manual flush", func() {
		rec := s.do(http.MethodPost, "/v1/audit/flush", s.token("ops", "admin"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.EqualValues(0, s.decode(rec)["queue_depth"])
	})
}

func (s *HandlersSuite) TestKeyEndpoints() {
	s.Run("info lists versions without material", func() {
		rec := s.do(http.MethodGet, "/v1/keys", s.token("ops"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		body := s.decode(rec)
		s.EqualValues(1, body["active_version"])
		s.NotContains(rec.Body.String(), "Material")
	})

	s.Run("rotate advances the version and audits", func() {
		rec := s.do(http.MethodPost, "/v1/keys/rotate", s.token("ops", "admin"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.EqualValues(2, s.decode(rec)["active_version"])

		ctx := context.Background()
		rows, err := s.store.Select(ctx, audit.EventsTable, storage.QueryOptions{
			Filter: storage.Filter{"resource_type": "encryption_key"},
		})
		s.Require().NoError(err)
		s.Len(rows, 1)
	})
}

func (s *HandlersSuite) TestAlertEndpoints() {
	// Raise an alert directly through the engine; the HTTP surface only
	// lists and transitions.
	s.engine.Process(context.Background(), audit.Event{
		ActorID: "exporter", Action: audit.ActionExport, RecordCount: 5000,
		Timestamp: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	})

	rec := s.do(http.MethodGet, "/v1/alerts", s.token("analyst"), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.EqualValues(1, body["count"])

	items := body["items"].([]any)
	alertID := items[0].(map[string]any)["id"].(string)

	s.Run("legal transition", func() {
		rec := s.do(http.MethodPost, "/v1/alerts/"+alertID+"/status", s.token("analyst", "admin"),
			map[string]any{"status": "INVESTIGATING", "assignee": "analyst"})
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("INVESTIGATING", s.decode(rec)["status"])
	})

	s.Run("illegal transition is a conflict", func() {
		rec := s.do(http.MethodPost, "/v1/alerts/"+alertID+"/status", s.token("analyst", "admin"),
			map[string]any{"status": "OPEN"})
		s.Equal(http.StatusConflict, rec.Code)
	})

	s.Run("rules are readable and updatable", func() {
		rec := s.do(http.MethodGet, "/v1/alerts/rules", s.token("ops", "admin"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		cfg := s.decode(rec)
		cfg["bulk_export_threshold"] = float64(50)

		rec = s.do(http.MethodPut, "/v1/alerts/rules", s.token("ops", "admin"), cfg)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.EqualValues(50, s.decode(rec)["bulk_export_threshold"])
	})
}

func (s *HandlersSuite) TestMigrateEndpoint() {
	ctx := context.Background()
	for range 3 {
		_, err := s.store.Insert(ctx, "clients", storage.Row{"name": "x", "national_id": "12345678901"})
		s.Require().NoError(err)
	}

	s.Run("dry run by default", func() {
		rec := s.do(http.MethodPost, "/v1/records/clients/migrate", s.token("ops", "admin"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		body := s.decode(rec)
		s.Equal(true, body["dry_run"])
		s.EqualValues(3, body["candidates"])
	})

	s.Run("explicit real run migrates", func() {
		rec := s.do(http.MethodPost, "/v1/records/clients/migrate?dry_run=false", s.token("ops", "admin"), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.EqualValues(3, s.decode(rec)["migrated"])
	})
}
