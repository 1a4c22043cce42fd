package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"github.com/bl-hori/auth-platform-sub001/pkg/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

func TestTokenBucketExhaustion(t *testing.T) {
	// Capacity 3, no refill: three requests pass, the fourth is limited.
	tb := NewTokenBucket(3, 0, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := tb.Allow(ctx, "key-1")
		assert.True(t, ok, "request %d", i+1)
	}

	ok, retryAt := tb.Allow(ctx, "key-1")
	assert.False(t, ok)
	assert.True(t, retryAt.After(time.Now()), "window end is in the future")
}

func TestTokenBucketPerCredentialIsolation(t *testing.T) {
	tb := NewTokenBucket(1, 0, time.Minute)
	ctx := context.Background()

	ok, _ := tb.Allow(ctx, "key-1")
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "key-1")
	assert.False(t, ok)

	ok, _ = tb.Allow(ctx, "key-2")
	assert.True(t, ok, "another credential has its own bucket")
}

func TestTokenBucketRefill(t *testing.T) {
	// 600 tokens per minute = 10 per second.
	tb := NewTokenBucket(2, 600, time.Minute)
	ctx := context.Background()

	ok, _ := tb.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "k")
	assert.False(t, ok)

	time.Sleep(150 * time.Millisecond) // ≥1 token refilled
	ok, _ = tb.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestTokenBucketCapacityClamp(t *testing.T) {
	tb := NewTokenBucket(2, 6000, time.Minute)
	ctx := context.Background()

	ok, _ := tb.Allow(ctx, "k")
	assert.True(t, ok)

	time.Sleep(100 * time.Millisecond) // plenty of refill, clamped at capacity

	for i := 0; i < 2; i++ {
		ok, _ = tb.Allow(ctx, "k")
		assert.True(t, ok)
	}
	ok, _ = tb.Allow(ctx, "k")
	assert.False(t, ok, "burst bounded by capacity")
}

func TestDistributedLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCacheFromClient(client, time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	d := NewDistributed(c, 3, time.Minute, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := d.Allow(ctx, "cred")
		assert.True(t, ok, "request %d", i+1)
	}
	ok, retryAt := d.Allow(ctx, "cred")
	assert.False(t, ok)
	assert.False(t, retryAt.IsZero())

	// Another instance sharing the backend sees the same counter.
	d2 := NewDistributed(c, 3, time.Minute, logger.NewNop())
	ok, _ = d2.Allow(ctx, "cred")
	assert.False(t, ok)
}

func TestDistributedFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCacheFromClient(client, time.Minute)
	d := NewDistributed(c, 1, time.Minute, logger.NewNop())

	mr.Close()

	ok, _ := d.Allow(context.Background(), "cred")
	assert.True(t, ok, "limiter outage must not reject traffic")
}
