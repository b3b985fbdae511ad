// Package cache provides bounded in-memory TTL caches for fetched market
// artifacts. Each artifact category gets its own Cache so keys never collide
// across categories.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/aristath/marketcore/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxEntries bounds a cache when no cap is configured.
const DefaultMaxEntries = 2048

// entry is immutable once stored; Put swaps in a new one.
type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// expired is the single staleness predicate shared by Get and Sweep.
// time.Since uses the monotonic reading carried by storedAt.
func (e *entry) expired() bool {
	return time.Since(e.storedAt) > e.ttl
}

// Cache is a TTL cache with least-recently-used eviction once MaxEntries is
// reached. One mutex guards the whole instance.
type Cache struct {
	name       string
	defaultTTL time.Duration

	mu    sync.Mutex
	items *lru.LRU[string, *entry]
	// evicting is set while Sweep/Invalidate remove keys so the eviction
	// callback can tell capacity evictions apart.
	evicting bool
}

// New creates a cache. maxEntries <= 0 uses DefaultMaxEntries.
func New(name string, defaultTTL time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{name: name, defaultTTL: defaultTTL}

	// NewLRU only fails for a non-positive size, which is ruled out above.
	items, _ := lru.NewLRU[string, *entry](maxEntries, c.onEvict)
	c.items = items
	return c
}

func (c *Cache) onEvict(_ string, _ *entry) {
	if !c.evicting {
		metrics.CacheEvictions.WithLabelValues(c.name, "capacity").Inc()
	}
}

// Name returns the artifact category this cache serves.
func (c *Cache) Name() string {
	return c.name
}

// DefaultTTL returns the TTL applied by Put when ttl <= 0.
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Get returns the value for key, or false when the key is missing or expired.
// Expired entries are left in place for GetStale and removed by Sweep.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Get(key)
	if !ok {
		metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()
		return nil, false
	}
	if e.expired() {
		metrics.CacheRequests.WithLabelValues(c.name, "expired").Inc()
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
	return e.value, true
}

// GetStale returns the value for key even when expired. It exists only for the
// explicit stale-allowed fallback path.
func (c *Cache) GetStale(key string) (any, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Peek(key)
	if !ok {
		return nil, time.Time{}, false
	}
	metrics.CacheRequests.WithLabelValues(c.name, "stale").Inc()
	return e.value, e.storedAt, true
}

// Put stores value under key, replacing any previous entry. ttl <= 0 uses the
// cache default.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	e := &entry{value: value, storedAt: time.Now(), ttl: ttl}

	c.mu.Lock()
	c.items.Add(key, e)
	size := c.items.Len()
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// Invalidate drops key. Missing keys are ignored.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	c.evicting = true
	c.items.Remove(key)
	c.evicting = false
	size := c.items.Len()
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	c.evicting = true
	removed := 0
	for _, key := range c.items.Keys() {
		if e, ok := c.items.Peek(key); ok && e.expired() {
			c.items.Remove(key)
			removed++
		}
	}
	c.evicting = false
	size := c.items.Len()
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues(c.name, "expired").Add(float64(removed))
	}
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
	return removed
}

// Len returns the number of retained entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.evicting = true
	c.items.Purge()
	c.evicting = false
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
}

// Key builds a cache key from a normalized symbol and request parameters.
func Key(symbol string, params ...string) string {
	if len(params) == 0 {
		return symbol
	}
	return symbol + "|" + strings.Join(params, "|")
}
