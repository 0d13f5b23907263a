package storage

import (
	"errors"
	"fmt"

	"vaultrail/pkg/platform/sentinel"
)

// errSimulated backs MemoryStore.FailWrites.
var errSimulated = errors.New("simulated store failure")

// Stores wrap low-level failures in ErrStoreUnavailable so callers can treat
// them uniformly as recoverable, and misses in ErrNotFound.

func notFound(table string) error {
	return fmt.Errorf("table %q: %w", table, sentinel.ErrNotFound)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, sentinel.ErrStoreUnavailable)
}
