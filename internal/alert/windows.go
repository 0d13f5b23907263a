package alert

import (
	"context"
	"sync"
	"time"
)

// ActivityWindows tracks per-actor activity inside trailing time windows.
// The windowed rules (failed logins, rate limit, anomalous access) read
// their counters from here. Implementations must be safe for concurrent use;
// the engine itself calls them from a single goroutine.
type ActivityWindows interface {
	// RecordEvent appends an occurrence for key at the given time and
	// returns how many occurrences fall inside the trailing window,
	// including this one.
	RecordEvent(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)

	// RecordSource notes that actor was seen from source and returns the
	// number of distinct sources observed for actor inside the window.
	RecordSource(ctx context.Context, actor, source string, at time.Time, window time.Duration) (int, error)
}

// MemoryWindows is the in-memory ActivityWindows for single-instance
// deployments and tests. Sliding windows over raw timestamps, no bucketing.
type MemoryWindows struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	sources map[string]map[string]time.Time
}

// NewMemoryWindows creates an empty in-memory window store.
func NewMemoryWindows() *MemoryWindows {
	return &MemoryWindows{
		events:  make(map[string][]time.Time),
		sources: make(map[string]map[string]time.Time),
	}
}

func (w *MemoryWindows) RecordEvent(_ context.Context, key string, at time.Time, window time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := at.Add(-window)
	kept := w.events[key][:0]
	for _, ts := range w.events[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, at)
	w.events[key] = kept
	return len(kept), nil
}

func (w *MemoryWindows) RecordSource(_ context.Context, actor, source string, at time.Time, window time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := w.sources[actor]
	if seen == nil {
		seen = make(map[string]time.Time)
		w.sources[actor] = seen
	}
	seen[source] = at

	cutoff := at.Add(-window)
	count := 0
	for src, last := range seen {
		if last.After(cutoff) {
			count++
		} else {
			delete(seen, src)
		}
	}
	return count, nil
}
