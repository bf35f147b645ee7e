package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window counter per key, shared by every process using the
// same Redis, so a client keyed by address keeps its quota across reconnects
// and instances. It fails open: a Redis error allows the event and is
// returned for logging.
type Redis struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedis(rdb *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if r == nil || r.rdb == nil {
		return true, nil
	}

	k := fmt.Sprintf("%s:%s", r.prefix, key)
	count, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return true, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, k, r.window).Err(); err != nil {
			return true, fmt.Errorf("redis expire: %w", err)
		}
	}
	return int(count) <= r.limit, nil
}
