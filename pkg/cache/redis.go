// Package cache wraps the distributed key-value store used as the shared
// decision cache tier and as backing for cross-instance counters.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// DistributedCache is the shared cache surface. Implementations must be safe
// for concurrent use.
type DistributedCache interface {
	// General caching
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteMultiple(ctx context.Context, keys []string) error

	// Index sets used for targeted invalidation: every cached decision key is
	// recorded under its tenant (and principal) index so purges avoid a
	// cluster-wide key scan.
	AddToIndex(ctx context.Context, indexKey, member string) error
	GetIndex(ctx context.Context, indexKey string) ([]string, error)
	DeleteIndex(ctx context.Context, indexKey string) error

	// ScanKeys lists keys matching a prefix. Fallback path when the index is
	// unavailable; O(keyspace).
	ScanKeys(ctx context.Context, prefix string) ([]string, error)

	// Incr increments a counter, setting the TTL on first use.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

type redisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache connects to the distributed cache. Addrs with a single entry
// yields a plain client, multiple entries a cluster client.
func NewRedisCache(addrs []string, password string, db int, defaultTTL time.Duration) (DistributedCache, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to distributed cache: %w", err)
	}

	return &redisCache{client: client, ttl: defaultTTL}, nil
}

// NewRedisCacheFromClient wraps an existing client. Used in tests.
func NewRedisCacheFromClient(client redis.UniversalClient, defaultTTL time.Duration) DistributedCache {
	return &redisCache{client: client, ttl: defaultTTL}
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, ErrNotFound
	}
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("get", "hit")
	return b, nil
}

func (r *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var data []byte
	switch x := value.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		j, err := json.Marshal(x)
		if err != nil {
			monitoring.RecordCacheOperation("set", "error")
			return fmt.Errorf("marshal value for key %s: %w", key, err)
		}
		data = j
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

func (r *redisCache) DeleteMultiple(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		monitoring.RecordCacheOperation("delete_multiple", "error")
		return fmt.Errorf("failed to delete %d keys: %w", len(keys), err)
	}
	monitoring.RecordCacheOperation("delete_multiple", "success")
	return nil
}

func (r *redisCache) AddToIndex(ctx context.Context, indexKey, member string) error {
	if err := r.client.SAdd(ctx, indexKey, member).Err(); err != nil {
		monitoring.RecordCacheOperation("add_index", "error")
		return fmt.Errorf("failed to add to index %s: %w", indexKey, err)
	}
	monitoring.RecordCacheOperation("add_index", "success")
	return nil
}

func (r *redisCache) GetIndex(ctx context.Context, indexKey string) ([]string, error) {
	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		monitoring.RecordCacheOperation("get_index", "error")
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}
	monitoring.RecordCacheOperation("get_index", "success")
	return members, nil
}

func (r *redisCache) DeleteIndex(ctx context.Context, indexKey string) error {
	if err := r.client.Del(ctx, indexKey).Err(); err != nil {
		monitoring.RecordCacheOperation("delete_index", "error")
		return fmt.Errorf("failed to delete index %s: %w", indexKey, err)
	}
	monitoring.RecordCacheOperation("delete_index", "success")
	return nil
}

func (r *redisCache) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, prefix+"*", 500).Result()
		if err != nil {
			monitoring.RecordCacheOperation("scan", "error")
			return nil, fmt.Errorf("failed to scan keys with prefix %s: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	monitoring.RecordCacheOperation("scan", "success")
	return keys, nil
}

func (r *redisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		monitoring.RecordCacheOperation("incr", "error")
		return 0, err
	}
	if n == 1 && ttl > 0 {
		_ = r.client.Expire(ctx, key, ttl).Err()
	}
	monitoring.RecordCacheOperation("incr", "success")
	return n, nil
}

func (r *redisCache) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = c
	}
	return r.client.Ping(ctx).Err()
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
