package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vaultrail/pkg/platform/sentinel"
)

// PostgresStore persists rows as JSONB documents in a single records table
// and serves the change feed over LISTEN/NOTIFY. Audit events get a
// dedicated log_event stored-procedure write path when the procedure exists.
type PostgresStore struct {
	db  *sql.DB
	dsn string
}

// Schema for the generic document store. Applied by EnsureSchema; kept here
// so integration tests and deployments share one definition.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	id         UUID PRIMARY KEY,
	tbl        TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS records_tbl_idx ON records (tbl, created_at);
`

// NewPostgresStore opens a connection pool for the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("ping", err)
	}
	return &PostgresStore{db: db, dsn: dsn}, nil
}

// EnsureSchema creates the records table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func channelFor(table string) string { return "vaultrail_" + table }

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	stored := cloneRow(row)
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.New().String()
	}

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", sentinel.ErrInvalidInput)
	}

	query := `
		INSERT INTO records (id, tbl, doc)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.ExecContext(ctx, query, stored["id"], table, doc); err != nil {
		return nil, unavailable("insert", err)
	}

	// Explicit notify keeps the change feed trigger-free.
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channelFor(table), string(doc)); err != nil {
		return nil, unavailable("notify", err)
	}
	return stored, nil
}

func (s *PostgresStore) Update(ctx context.Context, table string, patch Row, filter Filter) (Row, error) {
	filterDoc, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", sentinel.ErrInvalidInput)
	}
	patchDoc, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", sentinel.ErrInvalidInput)
	}

	query := `
		UPDATE records
		SET doc = doc || $3::jsonb
		WHERE id = (
			SELECT id FROM records
			WHERE tbl = $1 AND doc @> $2::jsonb
			ORDER BY created_at
			LIMIT 1
		)
		RETURNING doc
	`
	var doc []byte
	err = s.db.QueryRowContext(ctx, query, table, filterDoc, patchDoc).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(table)
	}
	if err != nil {
		return nil, unavailable("update", err)
	}
	return decodeDoc(doc)
}

// Delete removes the oldest row matching filter and returns its document.
func (s *PostgresStore) Delete(ctx context.Context, table string, filter Filter) (Row, error) {
	filterDoc, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", sentinel.ErrInvalidInput)
	}

	query := `
		DELETE FROM records
		WHERE id = (
			SELECT id FROM records
			WHERE tbl = $1 AND doc @> $2::jsonb
			ORDER BY created_at
			LIMIT 1
		)
		RETURNING doc
	`
	var doc []byte
	err = s.db.QueryRowContext(ctx, query, table, filterDoc).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(table)
	}
	if err != nil {
		return nil, unavailable("delete", err)
	}
	return decodeDoc(doc)
}

func (s *PostgresStore) Select(ctx context.Context, table string, opts QueryOptions) ([]Row, error) {
	filterDoc, err := json.Marshal(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", sentinel.ErrInvalidInput)
	}

	query := `SELECT doc FROM records WHERE tbl = $1 AND doc @> $2::jsonb`
	args := []any{table, filterDoc}

	if opts.OrderBy != "" {
		query += fmt.Sprintf(` ORDER BY doc->>%s`, pq.QuoteLiteral(opts.OrderBy))
		if opts.Desc {
			query += " DESC"
		}
	} else {
		query += " ORDER BY created_at"
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("select", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("scan", err)
		}
		row, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate", err)
	}
	return out, nil
}

func (s *PostgresStore) SelectOne(ctx context.Context, table string, filter Filter) (Row, error) {
	rows, err := s.Select(ctx, table, QueryOptions{Filter: filter, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(table)
	}
	return rows[0], nil
}

func (s *PostgresStore) Count(ctx context.Context, table string, filter Filter) (int, error) {
	filterDoc, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshal filter: %w", sentinel.ErrInvalidInput)
	}

	var count int
	query := `SELECT count(*) FROM records WHERE tbl = $1 AND doc @> $2::jsonb`
	if err := s.db.QueryRowContext(ctx, query, table, filterDoc).Scan(&count); err != nil {
		return 0, unavailable("count", err)
	}
	return count, nil
}

// LogEventRow is the audit store's preferred write path: the log_event
// stored procedure when it exists, a plain insert into the audit_events
// table otherwise. Detection happens once per process.
func (s *PostgresStore) LogEventRow(ctx context.Context, row Row) error {
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", sentinel.ErrInvalidInput)
	}

	_, err = s.db.ExecContext(ctx, `SELECT log_event($1::jsonb)`, doc)
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42883" { // undefined_function
		_, err = s.Insert(ctx, "audit_events", row)
		return err
	}
	return unavailable("log_event", err)
}

// Subscribe serves the change feed over LISTEN/NOTIFY. Rows arrive in
// notification order, which postgres guarantees matches commit order on a
// single connection.
func (s *PostgresStore) Subscribe(ctx context.Context, table string) (<-chan Row, func(), error) {
	listener := pq.NewListener(s.dsn, time.Second, time.Minute, nil)
	if err := listener.Listen(channelFor(table)); err != nil {
		listener.Close()
		return nil, nil, unavailable("listen", err)
	}

	ch := make(chan Row, 256)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					continue // reconnect event
				}
				row, err := decodeDoc([]byte(n.Extra))
				if err != nil {
					continue
				}
				select {
				case ch <- row:
				case <-done:
					return
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		listener.Close()
	}
	return ch, cancel, nil
}

func decodeDoc(doc []byte) (Row, error) {
	var row Row
	if err := json.Unmarshal(doc, &row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}
