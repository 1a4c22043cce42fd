package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
	distcache "github.com/bl-hori/auth-platform-sub001/pkg/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

func newTestCache(t *testing.T) (*DecisionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l2 := distcache.NewRedisCacheFromClient(client, 5*time.Minute)
	t.Cleanup(func() { _ = l2.Close() })
	return New(l2, 100, 10*time.Second, 5*time.Minute, logger.NewNop()), mr
}

func allowResult() *models.DecisionResult {
	return &models.DecisionResult{
		Decision:                models.DecisionAllow,
		Reason:                  "viewer: document:read",
		ContributingRoles:       []string{"viewer"},
		ContributingPermissions: []string{"document:read"},
	}
}

func TestFingerprint(t *testing.T) {
	key := Fingerprint("T1", "u-ext-1", "read", "document", "doc-1")
	assert.Equal(t, "T1:u-ext-1:read:document:doc-1", key)

	req := &models.DecisionRequest{
		TenantID:  "T1",
		Principal: models.PrincipalRef{ID: "u-ext-1"},
		Action:    "read",
		Resource:  models.ResourceRef{Type: "document", ID: "doc-1"},
	}
	assert.Equal(t, key, FingerprintRequest(req))

	// Attributes do not contribute to the key.
	req.Resource.Attrs = map[string]interface{}{"owner": "someone"}
	assert.Equal(t, key, FingerprintRequest(req))
}

func TestComputeOnceThenServeFromL1(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("T1", "u-ext-1", "read", "document", "doc-1")

	var computes int
	compute := func(context.Context) (*models.DecisionResult, error) {
		computes++
		return allowResult(), nil
	}

	res, cached, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.Equal(t, 1, computes)

	res, cached, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.Equal(t, "viewer: document:read", res.Reason)
	assert.Equal(t, 1, computes, "second request must not evaluate")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.L1Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestL2PromotionToL1(t *testing.T) {
	c1, mr := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("T1", "u-ext-1", "read", "document", "doc-1")

	_, _, err := c1.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
		return allowResult(), nil
	})
	require.NoError(t, err)

	// A second process sharing the same L2 sees the record without
	// evaluating.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l2 := distcache.NewRedisCacheFromClient(client, 5*time.Minute)
	c2 := New(l2, 100, 10*time.Second, 5*time.Minute, logger.NewNop())

	res, cached, err := c2.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
		t.Fatal("compute must not run on an L2 hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.Equal(t, int64(1), c2.Stats().L2Hits)

	// Promoted: next read is an L1 hit.
	_, cached, err = c2.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
		t.Fatal("compute must not run on an L1 hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, int64(1), c2.Stats().L1Hits)
}

func TestErrorDecisionsNotCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("T1", "u-ext-1", "read", "document", "doc-1")

	var computes int
	compute := func(context.Context) (*models.DecisionResult, error) {
		computes++
		return &models.DecisionResult{Decision: models.DecisionError, Reason: "store unavailable"}, nil
	}

	for i := 0; i < 2; i++ {
		res, cached, err := c.GetOrCompute(ctx, key, compute)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, models.DecisionError, res.Decision)
	}
	assert.Equal(t, 2, computes, "error decisions are re-evaluated")
}

func TestSingleFlightCoalescesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("T1", "u-ext-1", "read", "document", "doc-1")

	var computes atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*models.DecisionResult, error) {
		computes.Add(1)
		<-release
		return allowResult(), nil
	}

	const readers = 16
	var wg sync.WaitGroup
	results := make([]*models.DecisionResult, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _, err := c.GetOrCompute(ctx, key, compute)
			require.NoError(t, err)
			results[i] = res
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load(), "concurrent misses share one evaluation")
	for _, res := range results {
		assert.Equal(t, models.DecisionAllow, res.Decision)
	}
}

func TestInvalidatePrincipalPurgesBothTiers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	keyU1 := Fingerprint("T1", "u-ext-1", "read", "document", "doc-1")
	keyU2 := Fingerprint("T1", "u-ext-2", "read", "document", "doc-1")

	for _, key := range []string{keyU1, keyU2} {
		_, _, err := c.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
			return allowResult(), nil
		})
		require.NoError(t, err)
	}

	c.InvalidatePrincipal(ctx, "T1", "u-ext-1")

	var computes int
	_, cached, err := c.GetOrCompute(ctx, keyU1, func(context.Context) (*models.DecisionResult, error) {
		computes++
		return &models.DecisionResult{Decision: models.DecisionDeny, Reason: "no roles: user has no role assignments"}, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, computes, "purged key re-evaluates")

	// The other principal's entry survives.
	_, cached, err = c.GetOrCompute(ctx, keyU2, func(context.Context) (*models.DecisionResult, error) {
		t.Fatal("unaffected principal must stay cached")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestInvalidateTenantPurgesEverything(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	keys := []string{
		Fingerprint("T1", "u-ext-1", "read", "document", "doc-1"),
		Fingerprint("T1", "u-ext-2", "write", "folder", "f-1"),
		Fingerprint("T2", "u-ext-9", "read", "document", "doc-9"),
	}
	for _, key := range keys {
		_, _, err := c.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
			return allowResult(), nil
		})
		require.NoError(t, err)
	}

	c.InvalidateTenant(ctx, "T1")

	for _, key := range keys[:2] {
		var computes int
		_, cached, err := c.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
			computes++
			return allowResult(), nil
		})
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, 1, computes)
	}

	// Other tenant untouched.
	_, cached, err := c.GetOrCompute(ctx, keys[2], func(context.Context) (*models.DecisionResult, error) {
		t.Fatal("other tenant must stay cached")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestServesFromL1WhenL2Down(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("T1", "u-ext-1", "read", "document", "doc-1")

	_, _, err := c.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
		return allowResult(), nil
	})
	require.NoError(t, err)

	mr.Close()

	// L1 still serves.
	res, cached, err := c.GetOrCompute(ctx, key, func(context.Context) (*models.DecisionResult, error) {
		t.Fatal("L1 hit expected")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, models.DecisionAllow, res.Decision)

	// A different key computes and lands in L1 despite the L2 write failing.
	key2 := Fingerprint("T1", "u-ext-1", "write", "document", "doc-1")
	var computes int
	compute := func(context.Context) (*models.DecisionResult, error) {
		computes++
		return allowResult(), nil
	}
	_, cached, err = c.GetOrCompute(ctx, key2, compute)
	require.NoError(t, err)
	assert.False(t, cached)

	_, cached, err = c.GetOrCompute(ctx, key2, compute)
	require.NoError(t, err)
	assert.True(t, cached, "second read served from L1")
	assert.Equal(t, 1, computes)
}
