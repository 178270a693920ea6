// Package cache provides a bounded in-memory LRU keyed by comparable keys.
//
// It backs the remote archive reader's index-node cache: entries are
// content-addressed by byte range and immutable once fetched, so the cache
// needs eviction but never invalidation.
package cache

import (
	"container/list"
	"sync"
)

// LRU is a concurrency-safe least-recently-used cache with a byte budget.
// Each entry carries a cost (typically its byte size); inserting past the
// budget evicts from the cold end.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	order    *list.List
	entries  map[K]*list.Element
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
	cost  int64
}

// NewLRU creates a cache bounded to maxBytes total cost. A zero or negative
// budget disables eviction.
func NewLRU[K comparable, V any](maxBytes int64) *LRU[K, V] {
	return &LRU[K, V]{
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[K]*list.Element),
	}
}

// Get returns the cached value for key and marks it recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

// Add stores value under key with the given cost, evicting cold entries as
// needed. Re-adding an existing key replaces its value and cost.
func (c *LRU[K, V]) Add(key K, value V, cost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*lruEntry[K, V])
		c.size += cost - entry.cost
		entry.value = value
		entry.cost = cost
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&lruEntry[K, V]{key: key, value: value, cost: cost})
		c.entries[key] = el
		c.size += cost
	}

	if c.maxBytes <= 0 {
		return
	}
	for c.size > c.maxBytes && c.order.Len() > 1 {
		c.evictOldest()
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SizeBytes returns the total cost of cached entries.
func (c *LRU[K, V]) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU[K, V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*lruEntry[K, V])
	c.order.Remove(el)
	delete(c.entries, entry.key)
	c.size -= entry.cost
}
