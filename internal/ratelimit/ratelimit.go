//go:generate mockgen -destination=../mocks/ratelimit_mocks.go -package=mocks . Limiter

// Package ratelimit throttles run requests per client address and inbound
// frames per socket. Run requests are counted in Redis when configured and in
// process otherwise; inbound frames use a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Bucket is a single token bucket refilled at r tokens per second.
type Bucket struct {
	lim *rate.Limiter
}

func NewBucket(r float64, burst int) *Bucket {
	return &Bucket{lim: rate.NewLimiter(rate.Limit(r), burst)}
}

func (b *Bucket) Allow() bool {
	return b.lim.Allow()
}

// Wait blocks until a token is available. It fails at once when ctx would
// expire first.
func (b *Bucket) Wait(ctx context.Context) error {
	return b.lim.Wait(ctx)
}

type localEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Local keeps one limiter per key in memory. Keys idle for a whole window
// are dropped since their bucket is full again.
type Local struct {
	mu        sync.Mutex
	entries   map[string]*localEntry
	limit     rate.Limit
	burst     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewLocal allows limit events per window for each key, with bursts up to limit.
func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Local{
		entries:   make(map[string]*localEntry),
		limit:     rate.Limit(float64(limit) / window.Seconds()),
		burst:     limit,
		window:    window,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}

	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1), nil
}

func (l *Local) sweep(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.seen) >= l.window {
			delete(l.entries, k)
		}
	}
	l.lastSweep = now
}

// Len reports how many keys are tracked.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
