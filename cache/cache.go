package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the current value for a key from its source of truth.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Cache is a keyed read cache with explicit invalidation and no TTL: a
// cached value is served until someone marks it stale. Concurrent reads of a
// stale key collapse into a single in-flight fetch.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	group   singleflight.Group
}

type entry[V any] struct {
	value V
	valid bool
	gen   uint64 // bumped on every invalidation
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]*entry[V])}
}

// Get returns the cached value for key, fetching it first if the key is
// missing or stale.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.valid {
		value := e.value
		c.mu.Unlock()
		return value, nil
	}
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	gen := e.gen
	c.mu.Unlock()

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero V
		return zero, fmt.Errorf("failed to refresh %q: %w", key, err)
	}
	value := result.(V)

	c.mu.Lock()
	// An invalidation that raced the fetch wins: keep the entry stale so the
	// next read refetches.
	if e.gen == gen {
		e.value = value
		e.valid = true
	}
	c.mu.Unlock()

	return value, nil
}

// Invalidate marks key stale. Idempotent; redundant calls collapse into the
// single refetch the next read performs.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.valid = false
	e.gen++
}

// Refresh forces a fetch for key regardless of staleness.
func (c *Cache[V]) Refresh(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	c.Invalidate(key)
	return c.Get(ctx, key, fetch)
}

// Drop removes key entirely, discarding its cached value.
func (c *Cache[V]) Drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
