package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultrail/internal/platform/metrics"
)

// Pipeline batches events and delivers them to the sink. An event is either
// flushed to the store or persisted to the local fallback log — never
// dropped. Flushing triggers on whichever comes first: the queue reaching
// the batch size, or the flush timer elapsing since the first unflushed
// event was queued. This bounds both worst-case memory and worst-case
// delivery latency.
type Pipeline struct {
	mu    sync.Mutex
	queue []Event
	timer *time.Timer

	// flushMu serializes flushes. A flush already in progress absorbs newly
	// queued events into the next flush, not the current one.
	flushMu sync.Mutex

	sink         Sink
	fallback     *FallbackLog
	batchSize    int
	flushTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets the queue size that triggers an immediate flush.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushTimeout bounds how long an event may wait in the queue.
func WithFlushTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.flushTimeout = d
		}
	}
}

// WithFallbackCap sets the fallback log capacity.
func WithFallbackCap(n int) Option {
	return func(p *Pipeline) { p.fallback = NewFallbackLog(n) }
}

// WithLogger sets a logger for fallback diversions.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline delivering to sink.
func NewPipeline(sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:         sink,
		batchSize:    10,
		flushTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fallback == nil {
		p.fallback = NewFallbackLog(100)
	}
	return p
}

// Enqueue accepts one event. Missing ID, timestamp, severity and status are
// defaulted. Reaching the batch size flushes immediately on the caller's
// goroutine; otherwise the flush timer covers delivery latency.
func (p *Pipeline) Enqueue(ctx context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityLow
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}

	p.mu.Lock()
	p.queue = append(p.queue, e)
	n := len(p.queue)
	if n == 1 {
		p.timer = time.AfterFunc(p.flushTimeout, func() { p.Flush(context.Background()) })
	}
	p.mu.Unlock()

	p.metrics.SetQueueDepth(n)

	if n >= p.batchSize {
		// Best-effort: if another flush is running, these events ride the
		// next one.
		if p.flushMu.TryLock() {
			defer p.flushMu.Unlock()
			p.drain(ctx)
		}
	}
}

// Flush drains the queue fully before returning. Call once on shutdown.
func (p *Pipeline) Flush(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	p.drain(ctx)
}

// drain must be called with flushMu held.
func (p *Pipeline) drain(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		p.metrics.SetQueueDepth(0)
		p.deliver(ctx, batch)
	}
}

// deliver writes a batch to the sink one event at a time. The batch is not
// assumed atomic: the first failing event and the remainder of the batch go
// to the fallback log.
func (p *Pipeline) deliver(ctx context.Context, batch []Event) {
	for i, e := range batch {
		if err := p.sink.LogEvent(ctx, e); err != nil {
			rest := batch[i:]
			for _, ev := range rest {
				p.fallback.Append(ev)
			}
			p.metrics.ObserveFallback(len(rest))
			if p.logger != nil {
				p.logger.Warn("audit store unreachable, events diverted to fallback",
					"diverted", len(rest),
					"error", err,
				)
			}
			return
		}
		p.metrics.ObserveFlush(1)
	}
}

// ReplayFallback re-delivers buffered fallback events to the sink, oldest
// first, stopping at the first failure. Returns how many events were
// durably delivered.
func (p *Pipeline) ReplayFallback(ctx context.Context) int {
	delivered := 0
	for {
		batch := p.fallback.DrainBatch(p.batchSize)
		if len(batch) == 0 {
			return delivered
		}
		for i, e := range batch {
			if err := p.sink.LogEvent(ctx, e); err != nil {
				// Put the undelivered tail back and stop.
				for _, ev := range batch[i:] {
					p.fallback.Append(ev)
				}
				return delivered
			}
			delivered++
			p.metrics.ObserveFlush(1)
		}
	}
}

// Fallback exposes the fallback log for inspection and recovery tooling.
func (p *Pipeline) Fallback() *FallbackLog { return p.fallback }

// QueueDepth reports the current number of unflushed events.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
