package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventWindowKeyPrefix  = "aw:ev:"
	sourceWindowKeyPrefix = "aw:src:"
)

// RedisWindows is the Redis-backed ActivityWindows for deployments where
// multiple instances evaluate rules against shared counters. Sorted sets
// keyed by timestamp give the same sliding-window semantics as the memory
// implementation.
type RedisWindows struct {
	client *redis.Client
}

// NewRedisWindows wraps an existing client.
func NewRedisWindows(client *redis.Client) *RedisWindows {
	return &RedisWindows{client: client}
}

func (w *RedisWindows) RecordEvent(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	return w.slide(ctx, eventWindowKeyPrefix+key, fmt.Sprintf("%d", at.UnixNano()), at, window)
}

func (w *RedisWindows) RecordSource(ctx context.Context, actor, source string, at time.Time, window time.Duration) (int, error) {
	// Member is the source address itself, so ZCARD counts distinct sources.
	return w.slide(ctx, sourceWindowKeyPrefix+actor, source, at, window)
}

func (w *RedisWindows) slide(ctx context.Context, key, member string, at time.Time, window time.Duration) (int, error) {
	cutoff := at.Add(-window)

	pipe := w.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis window %s: %w", key, err)
	}
	return int(card.Val()), nil
}
