// Package storage defines the durable store contract this core consumes.
// The store is opaque: named tables of document rows with insert, update,
// select, count, and an ordered per-table change feed. Implementations are
// interface-driven so the in-memory store can stand in for postgres in tests
// and single-instance deployments.
package storage

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store,Feed

import "context"

// Row is one stored record. Rows carry an "id" key once persisted.
type Row = map[string]any

// Filter matches rows by exact field equality.
type Filter = map[string]any

// QueryOptions narrows and orders a Select.
type QueryOptions struct {
	Filter  Filter
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Store is the durable record store.
type Store interface {
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, patch Row, filter Filter) (Row, error)
	Select(ctx context.Context, table string, opts QueryOptions) ([]Row, error)
	SelectOne(ctx context.Context, table string, filter Filter) (Row, error)
	Delete(ctx context.Context, table string, filter Filter) (Row, error)
	Count(ctx context.Context, table string, filter Filter) (int, error)
}

// Feed delivers newly inserted rows for a table in insertion order. The
// returned cancel func releases the subscription.
type Feed interface {
	Subscribe(ctx context.Context, table string) (<-chan Row, func(), error)
}
