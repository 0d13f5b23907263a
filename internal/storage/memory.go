package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store and Feed. Insertion order is preserved
// per table and mirrored to subscribers, which is the ordering property the
// alert engine depends on.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row

	subMu sync.Mutex
	subs  map[string][]chan Row

	// FailWrites simulates an unreachable store for fallback-path tests.
	FailWrites bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][]Row),
		subs:   make(map[string][]chan Row),
	}
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) Insert(_ context.Context, table string, row Row) (Row, error) {
	if s.FailWrites {
		return nil, unavailable("insert", errSimulated)
	}

	stored := cloneRow(row)
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.New().String()
	}

	s.mu.Lock()
	s.tables[table] = append(s.tables[table], stored)
	s.mu.Unlock()

	s.publish(table, cloneRow(stored))
	return cloneRow(stored), nil
}

func (s *MemoryStore) Update(_ context.Context, table string, patch Row, filter Filter) (Row, error) {
	if s.FailWrites {
		return nil, unavailable("update", errSimulated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.tables[table] {
		if matches(row, filter) {
			for k, v := range patch {
				row[k] = v
			}
			return cloneRow(row), nil
		}
	}
	return nil, notFound(table)
}

// Delete removes the first row matching filter and returns it.
func (s *MemoryStore) Delete(_ context.Context, table string, filter Filter) (Row, error) {
	if s.FailWrites {
		return nil, unavailable("delete", errSimulated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	for i, row := range rows {
		if matches(row, filter) {
			s.tables[table] = append(rows[:i], rows[i+1:]...)
			return cloneRow(row), nil
		}
	}
	return nil, notFound(table)
}

func (s *MemoryStore) Select(_ context.Context, table string, opts QueryOptions) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Row
	for _, row := range s.tables[table] {
		if matches(row, opts.Filter) {
			out = append(out, cloneRow(row))
		}
	}

	if opts.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := lessValues(out[i][opts.OrderBy], out[j][opts.OrderBy])
			if opts.Desc {
				return !less
			}
			return less
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SelectOne(ctx context.Context, table string, filter Filter) (Row, error) {
	rows, err := s.Select(ctx, table, QueryOptions{Filter: filter, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(table)
	}
	return rows[0], nil
}

func (s *MemoryStore) Count(_ context.Context, table string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, row := range s.tables[table] {
		if matches(row, filter) {
			count++
		}
	}
	return count, nil
}

// Subscribe returns a channel receiving rows inserted into table, in
// insertion order. The buffer is generous so slow consumers do not stall
// writers; an overflowing subscriber is dropped rather than blocking.
func (s *MemoryStore) Subscribe(_ context.Context, table string) (<-chan Row, func(), error) {
	ch := make(chan Row, 256)

	s.subMu.Lock()
	s.subs[table] = append(s.subs[table], ch)
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		subs := s.subs[table]
		for i, sub := range subs {
			if sub == ch {
				s.subs[table] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

func (s *MemoryStore) publish(table string, row Row) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[table] {
		select {
		case ch <- row:
		default:
		}
	}
}

func matches(row Row, filter Filter) bool {
	for k, want := range filter {
		if !equalValues(row[k], want) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return a == b
}

func lessValues(a, b any) bool {
	switch va := a.(type) {
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Before(vb)
		}
	case string:
		if vb, ok := b.(string); ok {
			return va < vb
		}
	case int:
		if vb, ok := b.(int); ok {
			return va < vb
		}
	case float64:
		if vb, ok := b.(float64); ok {
			return va < vb
		}
	}
	return false
}
