// Package ttlcache provides a small expiring map for ephemeral values
// passed between an inbound request and a later follow-up.
package ttlcache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value    V
	deadline time.Time
}

// Cache maps keys to values with a per-entry time to live. Expired
// entries are dropped lazily on access and swept by Purge.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]item[V]
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Cache whose entries live for ttl.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]item[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (c *Cache[K, V]) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Put stores value under key, resetting its deadline.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, deadline: c.now().Add(c.ttl)}
}

// Get returns the live value for key, if any.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok || !it.deadline.After(c.now()) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return it.value, true
}

// Take returns and removes the live value for key, if any.
func (c *Cache[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	delete(c.items, key)
	if !ok || !it.deadline.After(c.now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Purge removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	dropped := 0
	for k, it := range c.items {
		if !it.deadline.After(now) {
			delete(c.items, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
