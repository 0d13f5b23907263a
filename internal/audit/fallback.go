package audit

import "sync"

// FallbackLog is a bounded, thread-safe local log for events the store
// rejected. When full, the oldest entries are evicted to make room, so
// storage stays capped while the most recent trail survives an outage.
type FallbackLog struct {
	mu       sync.Mutex
	events   []Event
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	evicted int64
}

// NewFallbackLog creates a fallback log with the given capacity.
func NewFallbackLog(capacity int) *FallbackLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &FallbackLog{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// Append adds an event, evicting the oldest if the log is full. Nothing is
// ever dropped silently on the way in — eviction is counted.
func (l *FallbackLog) Append(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count >= l.capacity {
		l.tail = (l.tail + 1) % l.capacity
		l.count--
		l.evicted++
	}

	l.events[l.head] = event
	l.head = (l.head + 1) % l.capacity
	l.count++
}

// DrainBatch removes up to n of the oldest events.
func (l *FallbackLog) DrainBatch(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil
	}
	if n > l.count {
		n = l.count
	}

	result := make([]Event, n)
	for i := range n {
		result[i] = l.events[l.tail]
		l.tail = (l.tail + 1) % l.capacity
	}
	l.count -= n
	return result
}

// Snapshot returns the buffered events oldest-first without removing them.
func (l *FallbackLog) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]Event, l.count)
	for i := range l.count {
		result[i] = l.events[(l.tail+i)%l.capacity]
	}
	return result
}

// Len returns the current number of buffered events.
func (l *FallbackLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Evicted returns how many events have been evicted by the cap.
func (l *FallbackLog) Evicted() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evicted
}
