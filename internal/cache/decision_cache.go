package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	distcache "github.com/bl-hori/auth-platform-sub001/pkg/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Stats is a point-in-time snapshot of cache behavior, exposed on the admin
// surface.
type Stats struct {
	L1Size   int   `json:"l1Size"`
	L1Hits   int64 `json:"l1Hits"`
	L2Hits   int64 `json:"l2Hits"`
	Misses   int64 `json:"misses"`
	Evals    int64 `json:"evaluations"`
	L2Errors int64 `json:"l2Errors"`
}

// ComputeFunc evaluates a decision on a full cache miss.
type ComputeFunc func(ctx context.Context) (*models.DecisionResult, error)

// DecisionCache is the two-tier decision cache. L1 is a per-process expirable
// LRU with a short TTL; L2 is the shared distributed cache with a longer TTL.
type DecisionCache struct {
	l1     *expirable.LRU[string, *models.CachedDecision]
	l2     distcache.DistributedCache
	flight singleflight.Group
	l2TTL  time.Duration
	logger logger.Logger

	l1Hits   atomic.Int64
	l2Hits   atomic.Int64
	misses   atomic.Int64
	evals    atomic.Int64
	l2Errors atomic.Int64
}

// New builds the two-tier cache. maxEntries bounds L1; l1TTL and l2TTL set
// the per-tier expirations.
func New(l2 distcache.DistributedCache, maxEntries int, l1TTL, l2TTL time.Duration, log logger.Logger) *DecisionCache {
	return &DecisionCache{
		l1:     expirable.NewLRU[string, *models.CachedDecision](maxEntries, nil, l1TTL),
		l2:     l2,
		l2TTL:  l2TTL,
		logger: log,
	}
}

type flightResult struct {
	result    *models.DecisionResult
	fromCache bool
}

// GetOrCompute returns the cached decision for key, or computes it once for
// all concurrent callers and populates both tiers. Error decisions are never
// cached. The returned bool reports whether the result came from a cache tier.
func (c *DecisionCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*models.DecisionResult, bool, error) {
	start := time.Now()

	if rec, ok := c.l1.Get(key); ok {
		c.l1Hits.Add(1)
		monitoring.RecordCacheHit("l1")
		return rec.Result(time.Since(start).Milliseconds()), true, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Re-check L1: a winner may have populated it while we queued.
		if rec, ok := c.l1.Get(key); ok {
			c.l1Hits.Add(1)
			monitoring.RecordCacheHit("l1")
			return flightResult{rec.Result(time.Since(start).Milliseconds()), true}, nil
		}

		if rec := c.l2Lookup(ctx, key); rec != nil {
			c.l2Hits.Add(1)
			monitoring.RecordCacheHit("l2")
			c.l1.Add(key, rec)
			return flightResult{rec.Result(time.Since(start).Milliseconds()), true}, nil
		}

		c.misses.Add(1)
		monitoring.RecordCacheMiss()

		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.evals.Add(1)

		if result.Decision != models.DecisionError {
			c.store(ctx, key, result)
		}
		return flightResult{result, false}, nil
	})
	if err != nil {
		return nil, false, err
	}

	fr := v.(flightResult)
	return fr.result, fr.fromCache, nil
}

// l2Lookup reads and decodes one record from the distributed tier. Failures
// other than a miss degrade to L1-only service.
func (c *DecisionCache) l2Lookup(ctx context.Context, key string) *models.CachedDecision {
	data, err := c.l2.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, distcache.ErrNotFound) {
			c.l2Errors.Add(1)
			c.logger.Warn("distributed cache read failed; serving without L2", "key", key, "error", err)
		}
		return nil
	}
	var rec models.CachedDecision
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("discarding undecodable cache record", "key", key, "error", err)
		_ = c.l2.Delete(ctx, key)
		return nil
	}
	return &rec
}

// store populates both tiers and the invalidation indexes.
func (c *DecisionCache) store(ctx context.Context, key string, result *models.DecisionResult) {
	rec := &models.CachedDecision{
		Decision:                result.Decision,
		Reason:                  result.Reason,
		ContributingRoles:       result.ContributingRoles,
		ContributingPermissions: result.ContributingPermissions,
		Degraded:                result.Degraded,
		CreatedAt:               time.Now(),
	}
	c.l1.Add(key, rec)

	if err := c.l2.Set(ctx, key, rec, c.l2TTL); err != nil {
		c.l2Errors.Add(1)
		c.logger.Warn("distributed cache write failed; L1 only", "key", key, "error", err)
		return
	}

	// Index the key for targeted invalidation. Key shape is
	// tenant:principal:action:type:id.
	parts := strings.SplitN(key, ":", 3)
	if len(parts) == 3 {
		tenant, principal := parts[0], parts[1]
		if err := c.l2.AddToIndex(ctx, tenantIndexKey(tenant), key); err != nil {
			c.logger.Warn("tenant index update failed", "tenant", tenant, "error", err)
		}
		if err := c.l2.AddToIndex(ctx, principalIndexKey(tenant, principal), key); err != nil {
			c.logger.Warn("principal index update failed", "tenant", tenant, "error", err)
		}
	}
}

// InvalidatePrincipal purges every cached decision for one principal in a
// tenant from both tiers.
func (c *DecisionCache) InvalidatePrincipal(ctx context.Context, tenantID, principal string) {
	c.purgeL1(principalPrefix(tenantID, principal))

	indexKey := principalIndexKey(tenantID, principal)
	keys, err := c.l2.GetIndex(ctx, indexKey)
	if err != nil {
		c.logger.Warn("principal index read failed; falling back to prefix scan",
			"tenant", tenantID, "principal", principal, "error", err)
		c.purgeL2ByScan(ctx, principalPrefix(tenantID, principal))
		return
	}
	if err := c.l2.DeleteMultiple(ctx, keys); err != nil {
		c.logger.Warn("principal purge failed; falling back to tenant namespace wipe",
			"tenant", tenantID, "error", err)
		c.purgeL2ByScan(ctx, tenantPrefix(tenantID))
	}
	_ = c.l2.DeleteIndex(ctx, indexKey)
}

// InvalidateTenant purges every cached decision for a tenant from both tiers.
func (c *DecisionCache) InvalidateTenant(ctx context.Context, tenantID string) {
	c.purgeL1(tenantPrefix(tenantID))

	indexKey := tenantIndexKey(tenantID)
	keys, err := c.l2.GetIndex(ctx, indexKey)
	if err != nil {
		c.logger.Warn("tenant index read failed; falling back to prefix scan",
			"tenant", tenantID, "error", err)
		c.purgeL2ByScan(ctx, tenantPrefix(tenantID))
		return
	}
	if err := c.l2.DeleteMultiple(ctx, keys); err != nil {
		c.logger.Warn("tenant purge failed; falling back to prefix scan",
			"tenant", tenantID, "error", err)
		c.purgeL2ByScan(ctx, tenantPrefix(tenantID))
	}
	_ = c.l2.DeleteIndex(ctx, indexKey)
}

// purgeL1 removes every L1 entry whose key carries the prefix. O(n) over the
// bounded L1 keyspace.
func (c *DecisionCache) purgeL1(prefix string) {
	for _, key := range c.l1.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.l1.Remove(key)
		}
	}
}

// purgeL2ByScan clears every distributed key carrying the prefix (a tenant or
// principal namespace) by key scan. Loss-tolerant last
// resort when the index is unavailable.
func (c *DecisionCache) purgeL2ByScan(ctx context.Context, prefix string) {
	keys, err := c.l2.ScanKeys(ctx, prefix)
	if err != nil {
		c.logger.Error("distributed cache scan failed; stale entries expire by TTL",
			"prefix", prefix, "error", err)
		return
	}
	if err := c.l2.DeleteMultiple(ctx, keys); err != nil {
		c.logger.Error("distributed cache purge failed; stale entries expire by TTL",
			"prefix", prefix, "error", err)
	}
}

// Stats snapshots the cache counters.
func (c *DecisionCache) Stats() Stats {
	return Stats{
		L1Size:   c.l1.Len(),
		L1Hits:   c.l1Hits.Load(),
		L2Hits:   c.l2Hits.Load(),
		Misses:   c.misses.Load(),
		Evals:    c.evals.Load(),
		L2Errors: c.l2Errors.Load(),
	}
}
