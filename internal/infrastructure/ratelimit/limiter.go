package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter in Redis. Counting in Redis keeps the
// limit correct across multiple pipeline instances.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func New(rdb *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		rdb:    rdb,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

// Allow consumes one unit of the named budget. The first hit of a window
// sets the expiry, so an idle key cannot leak.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	redisKey := l.prefix + ":rl:" + key
	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("set rate window: %w", err)
		}
	}
	return count <= l.limit, nil
}
