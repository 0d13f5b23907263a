package audit

import (
	"context"

	"vaultrail/internal/storage"
)

// Sink is where flushed events go. The pipeline writes events one at a time;
// a sink error for one event diverts it and the remainder of the batch to
// the fallback log.
type Sink interface {
	LogEvent(ctx context.Context, e Event) error
}

// procLogger is implemented by stores that expose a log_event
// stored-procedure write path. When present it is preferred over a direct
// table insert.
type procLogger interface {
	LogEventRow(ctx context.Context, row storage.Row) error
}

// StoreSink delivers events to the durable store, via the stored procedure
// when the store offers one and the events table otherwise. Direct inserts
// feed the store's change feed, which is what drives the alert engine.
type StoreSink struct {
	store storage.Store
}

// NewStoreSink wraps a store as a pipeline sink.
func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) LogEvent(ctx context.Context, e Event) error {
	row := ToRow(e)
	if pl, ok := s.store.(procLogger); ok {
		return pl.LogEventRow(ctx, row)
	}
	_, err := s.store.Insert(ctx, EventsTable, row)
	return err
}
