package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// noopCache is an in-memory, process-local fallback that satisfies
// DistributedCache when the external cache is unavailable. It is best-effort:
// data is not shared across replicas and is lost on restart.
type noopCache struct {
	mu      sync.RWMutex
	m       map[string]noopEntry
	indexes map[string]map[string]struct{}
	logger  logger.Logger
}

type noopEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewNoopCache returns the in-memory fallback cache.
func NewNoopCache(log logger.Logger) DistributedCache {
	log.Warn("distributed cache unavailable; using in-memory fallback")
	return &noopCache{
		m:       make(map[string]noopEntry),
		indexes: make(map[string]map[string]struct{}),
		logger:  log,
	}
}

func (n *noopCache) Get(ctx context.Context, key string) ([]byte, error) {
	n.mu.RLock()
	e, ok := n.m[key]
	n.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		return nil, ErrNotFound
	}
	return e.data, nil
}

func (n *noopCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		jb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b = jb
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	n.mu.Lock()
	n.m[key] = noopEntry{data: b, expiresAt: exp}
	n.mu.Unlock()
	return nil
}

func (n *noopCache) Delete(ctx context.Context, key string) error {
	n.mu.Lock()
	delete(n.m, key)
	n.mu.Unlock()
	return nil
}

func (n *noopCache) DeleteMultiple(ctx context.Context, keys []string) error {
	n.mu.Lock()
	for _, k := range keys {
		delete(n.m, k)
	}
	n.mu.Unlock()
	return nil
}

func (n *noopCache) AddToIndex(ctx context.Context, indexKey, member string) error {
	n.mu.Lock()
	set, ok := n.indexes[indexKey]
	if !ok {
		set = make(map[string]struct{})
		n.indexes[indexKey] = set
	}
	set[member] = struct{}{}
	n.mu.Unlock()
	return nil
}

func (n *noopCache) GetIndex(ctx context.Context, indexKey string) ([]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	set := n.indexes[indexKey]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (n *noopCache) DeleteIndex(ctx context.Context, indexKey string) error {
	n.mu.Lock()
	delete(n.indexes, indexKey)
	n.mu.Unlock()
	return nil
}

func (n *noopCache) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var keys []string
	for k := range n.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (n *noopCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var count int64
	if e, ok := n.m[key]; ok && (e.expiresAt.IsZero() || time.Now().Before(e.expiresAt)) {
		_ = json.Unmarshal(e.data, &count)
	}
	count++
	b, _ := json.Marshal(count)
	exp := time.Time{}
	if ttl > 0 {
		if e, ok := n.m[key]; ok && !e.expiresAt.IsZero() && time.Now().Before(e.expiresAt) {
			exp = e.expiresAt
		} else {
			exp = time.Now().Add(ttl)
		}
	}
	n.m[key] = noopEntry{data: b, expiresAt: exp}
	return count, nil
}

func (n *noopCache) HealthCheck(ctx context.Context) error { return nil }

func (n *noopCache) Close() error { return nil }
