// Package ratelimit provides per-credential request limiting at the service
// boundary.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bl-hori/auth-platform-sub001/pkg/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Limiter answers whether a credential may proceed. When the answer is no,
// retryAt is the end of the current window.
type Limiter interface {
	Allow(ctx context.Context, credential string) (ok bool, retryAt time.Time)
}

// staleAfterPeriods controls pruning of idle buckets.
const staleAfterPeriods = 10

// maxIdleBuckets triggers a prune pass.
const maxIdleBuckets = 10000

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// TokenBucket is the in-process limiter: one bucket per credential with a
// steady refill. Limits are per-instance; multi-instance deployments either
// accept best-effort local limits or use the distributed limiter.
type TokenBucket struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	capacity     float64
	refillTokens float64
	refillPeriod time.Duration
}

func NewTokenBucket(capacity, refillTokens int, refillPeriod time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 100
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Minute
	}
	return &TokenBucket{
		buckets:      make(map[string]*bucket),
		capacity:     float64(capacity),
		refillTokens: float64(refillTokens),
		refillPeriod: refillPeriod,
	}
}

func (tb *TokenBucket) Allow(ctx context.Context, credential string) (bool, time.Time) {
	now := time.Now()

	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, ok := tb.buckets[credential]
	if !ok {
		if len(tb.buckets) >= maxIdleBuckets {
			tb.prune(now)
		}
		b = &bucket{tokens: tb.capacity, lastSeen: now}
		tb.buckets[credential] = b
	} else if tb.refillTokens > 0 {
		elapsed := now.Sub(b.lastSeen)
		b.tokens += elapsed.Seconds() / tb.refillPeriod.Seconds() * tb.refillTokens
		if b.tokens > tb.capacity {
			b.tokens = tb.capacity
		}
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, time.Time{}
	}

	if tb.refillTokens <= 0 {
		return false, now.Add(tb.refillPeriod)
	}
	need := 1 - b.tokens
	wait := time.Duration(need / tb.refillTokens * float64(tb.refillPeriod))
	return false, now.Add(wait)
}

// prune drops buckets idle long enough to have refilled completely. Called
// with the lock held.
func (tb *TokenBucket) prune(now time.Time) {
	horizon := now.Add(-time.Duration(staleAfterPeriods) * tb.refillPeriod)
	for key, b := range tb.buckets {
		if b.lastSeen.Before(horizon) {
			delete(tb.buckets, key)
		}
	}
}

// Distributed is the shared-counter limiter backed by the distributed cache:
// a fixed window counter per credential, consistent across instances.
type Distributed struct {
	cache    cache.DistributedCache
	capacity int64
	window   time.Duration
	logger   logger.Logger
}

func NewDistributed(c cache.DistributedCache, capacity int, window time.Duration, log logger.Logger) *Distributed {
	if capacity <= 0 {
		capacity = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Distributed{cache: c, capacity: int64(capacity), window: window, logger: log}
}

func (d *Distributed) Allow(ctx context.Context, credential string) (bool, time.Time) {
	now := time.Now()
	windowStart := now.Truncate(d.window)
	windowEnd := windowStart.Add(d.window)

	key := "authz:ratelimit:" + credential + ":" + windowStart.UTC().Format("20060102150405")
	count, err := d.cache.Incr(ctx, key, d.window)
	if err != nil {
		// Fail open: limiting is protective, not authoritative.
		d.logger.Warn("rate limit counter unavailable; allowing request", "error", err)
		return true, time.Time{}
	}
	if count > d.capacity {
		return false, windowEnd
	}
	return true, time.Time{}
}
