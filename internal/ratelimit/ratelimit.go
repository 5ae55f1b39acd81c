// Package ratelimit caps how often one user may hit the trading endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jensholdgaard/bazaar/internal/config"
)

// Limiter decides whether another request under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New returns a Redis-backed limiter shared by all replicas when client is
// non-nil, an in-process limiter otherwise, or one that allows everything
// when limiting is disabled.
func New(cfg config.RateLimitConfig, client redis.Cmdable) Limiter {
	switch {
	case !cfg.Enabled:
		return Unlimited{}
	case client != nil:
		return NewRedis(client, cfg.Requests, cfg.Window)
	default:
		return NewLocal(cfg.Requests, cfg.Window)
	}
}

// Unlimited allows every request.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// Redis is a fixed-window counter kept in Redis.
type Redis struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
}

// NewRedis allows limit requests per key in each window.
func NewRedis(client redis.Cmdable, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: int64(limit), window: window}
}

func redisKey(key string) string { return "ratelimit:" + key }

// Allow increments the counter for key. The expiry is sent with every hit but
// only set when the key has none, so a hit whose expiry was lost is repaired by
// the next one instead of leaving a counter that never resets.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := redisKey(key)
	var n *redis.IntCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		n = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, r.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("counting %s: %w", k, err)
	}
	return n.Val() <= r.limit, nil
}

// Local is a per-process token bucket per key. Buckets untouched for a whole
// window are full again and get dropped.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocal allows bursts of limit requests refilled evenly over window.
func NewLocal(limit int, window time.Duration) *Local {
	return &Local{
		buckets: make(map[string]*bucket),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window,
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1), nil
}

// sweep drops idle buckets. l.mu must be held.
func (l *Local) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}
