package options

import (
	"sync"
	"time"
)

// DefaultTTL is how long a resolved value stays valid.
const DefaultTTL = 24 * time.Hour

type cacheEntry struct {
	value  any
	stored time.Time
}

// Cache is a read-mostly map of resolved option values with a fixed TTL.
// It never evicts by size; entries leave on expiry or explicit removal.
//
// Every write bumps a generation counter. A reader that captured the
// generation before loading from the store fills the cache through
// SetIfGeneration, so a value loaded before a concurrent write is dropped
// instead of cached.
type Cache[K comparable] struct {
	mu      sync.RWMutex
	entries map[K]cacheEntry
	gen     uint64
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates an empty cache using DefaultTTL.
func NewCache[K comparable]() *Cache[K] {
	return &Cache[K]{
		entries: make(map[K]cacheEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

// Get returns the cached value. Expired entries are removed and reported as
// missing.
func (c *Cache[K]) Get(key K) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.mu.Lock()
		// Another writer may have refreshed the slot meanwhile.
		if cur, ok := c.entries[key]; ok && c.expired(cur) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Generation returns the current write generation.
func (c *Cache[K]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Set stores value, replacing any previous entry and its timestamp.
func (c *Cache[K]) Set(key K, value any) {
	c.mu.Lock()
	c.gen++
	c.entries[key] = cacheEntry{value: value, stored: c.now()}
	c.mu.Unlock()
}

// SetIfGeneration stores value only if no write happened since gen was read.
func (c *Cache[K]) SetIfGeneration(key K, value any, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.entries[key] = cacheEntry{value: value, stored: c.now()}
	return true
}

// Remove evicts a single entry.
func (c *Cache[K]) Remove(key K) {
	c.mu.Lock()
	c.gen++
	delete(c.entries, key)
	c.mu.Unlock()
}

// Invalidate drops every entry.
func (c *Cache[K]) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.entries = make(map[K]cacheEntry)
	c.mu.Unlock()
}

// ClearExpired sweeps expired entries and returns how many were removed.
func (c *Cache[K]) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired ones included.
func (c *Cache[K]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[K]) expired(e cacheEntry) bool {
	return c.now().Sub(e.stored) >= c.ttl
}
