package services

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"district-insights/pkg/metrics"
)

// Cache keys, one per query purpose
const (
	KeyDistrictNames     = "districtNames"
	KeyImportantFeatures = "importantFeatures"
	KeyPrediction        = "prediction"
)

// QueryCache memoizes query results by key until they are invalidated.
// Concurrent misses on one key share a single fetch.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]any
	gens    map[string]uint64
	group   singleflight.Group
	metrics *metrics.Collector
}

// NewQueryCache creates an empty cache
func NewQueryCache(metricsCollector *metrics.Collector) *QueryCache {
	return &QueryCache{
		entries: make(map[string]any),
		gens:    make(map[string]uint64),
		metrics: metricsCollector,
	}
}

// Get returns the cached value for key or runs fetch to fill it. Errors are
// never cached. A result whose key was invalidated while it was being
// fetched is returned to its callers but not stored.
func (c *QueryCache) Get(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		c.metrics.RecordCacheLookup(key, true)
		return v, nil
	}
	gen := c.gens[key]
	c.mu.Unlock()
	c.metrics.RecordCacheLookup(key, false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = v
		}
		c.mu.Unlock()
		return v, nil
	})
	return v, err
}

// Invalidate drops key so the next Get refetches it
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

// Cached reports whether key currently holds a value
func (c *QueryCache) Cached(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func cachedFetch[T any](ctx context.Context, c *QueryCache, key string, fetch func(context.Context) (T, error)) (T, error) {
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
