// Package cache provides the short-lived read cache used by the request
// handlers and the invalidation hook the engine calls after every mutation.
package cache

import (
	"context"
	"sync"
	"time"
)

// TTL is a keyed cache whose entries expire after a fixed lifetime.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry[V]
	gens    map[string]uint64 // bumped by Invalidate
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTL constructs a cache holding entries for ttl.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{ttl: ttl, now: time.Now, entries: make(map[string]entry[V]), gens: make(map[string]uint64)}
}

// Get returns the cached value for key when present and fresh.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached, and neither is a result whose key was invalidated
// while load ran: it may predate the mutation.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	gen := c.gens[key]
	c.mu.Unlock()

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] == gen {
		c.entries[key] = entry[V]{value: v, expiresAt: c.now().Add(c.ttl)}
	}
	return v, nil
}

// Invalidate implements Invalidator.
func (c *TTL[V]) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.gens[key]++
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
