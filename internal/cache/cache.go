// Package cache provides the time-boxed caches injected into collaborator
// clients.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a key/value cache whose entries may expire.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Add(key string, value V)
}

// LRU is a size-bounded in-process cache with a per-entry TTL.
type LRU[V any] struct {
	inner *expirable.LRU[string, V]
}

// NewLRU builds an LRU holding at most size entries for ttl each.
func NewLRU[V any](size int, ttl time.Duration) *LRU[V] {
	if size <= 0 {
		size = 256
	}
	return &LRU[V]{inner: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the live entry for key.
func (c *LRU[V]) Get(key string) (V, bool) {
	return c.inner.Get(key)
}

// Add stores value under key, evicting the oldest entry when full.
func (c *LRU[V]) Add(key string, value V) {
	c.inner.Add(key, value)
}

// Len reports the number of cached entries, expired ones included until purged.
func (c *LRU[V]) Len() int {
	return c.inner.Len()
}

// Nop never stores anything.
type Nop[V any] struct{}

// Get always misses.
func (Nop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

// Add discards value.
func (Nop[V]) Add(string, V) {}
