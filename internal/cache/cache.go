// Package cache implements the two-tier, category-partitioned
// in-process cache: TTL expiry, hot-key tracking, access prediction,
// predictive preloading and one-hop category invalidation.
//
// Concurrency contract: operations on the same key are serialized by a
// per-key lock and observed in FIFO order; operations on distinct keys
// run in parallel. Per-category size counters are only mutated inside
// the critical section that mutates the entry's presence, so sweeps
// racing writers can never desynchronize them.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RefreshFunc re-materializes the value behind a key from the
// authoritative store. Selected by the key's category prefix.
type RefreshFunc func(key string) error

// Cache is the category-partitioned key/value engine.
type Cache struct {
	lockMu sync.Mutex
	locks  map[string]*keyLock

	mapMu   sync.RWMutex
	entries map[string]*entry

	metrics *Metrics

	refreshMu  sync.RWMutex
	refreshers map[Category]RefreshFunc

	preloadMu sync.Mutex
	preloads  map[string]struct{}

	now func() time.Time
	log *zap.Logger
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New builds an empty cache.
func New(log *zap.Logger) *Cache {
	return &Cache{
		locks:      make(map[string]*keyLock),
		entries:    make(map[string]*entry),
		metrics:    newMetrics(),
		refreshers: make(map[Category]RefreshFunc),
		preloads:   make(map[string]struct{}),
		now:        time.Now,
		log:        log,
	}
}

// SetClock replaces the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// RegisterRefresher installs the bulk-loader hook used by preload
// tasks for keys of the given category.
func (c *Cache) RegisterRefresher(cat Category, fn RefreshFunc) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.refreshers[cat] = fn
}

// lockKey acquires the per-key lock, creating it on first use. The
// returned func releases the lock and drops it once unreferenced.
func (c *Cache) lockKey(key string) func() {
	c.lockMu.Lock()
	l := c.locks[key]
	if l == nil {
		l = &keyLock{}
		c.locks[key] = l
	}
	l.refs++
	c.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.lockMu.Unlock()
	}
}

func (c *Cache) loadEntry(key string) *entry {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()
	return c.entries[key]
}

// storeEntry inserts or replaces. Returns true when the key was new.
// Caller must hold the key lock.
func (c *Cache) storeEntry(key string, e *entry) bool {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	_, existed := c.entries[key]
	c.entries[key] = e
	return !existed
}

// dropEntry removes the key. Returns the removed entry, nil when
// absent. Caller must hold the key lock.
func (c *Cache) dropEntry(key string) *entry {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	delete(c.entries, key)
	return e
}

// Get returns the cached value for (cat, args), or ok=false on a miss.
// An expired entry is dropped and counted as a miss plus an eviction.
func (c *Cache) Get(cat Category, args ...any) (any, bool) {
	key := Key(cat, args...)
	unlock := c.lockKey(key)
	defer unlock()

	e := c.loadEntry(key)
	if e == nil {
		c.metrics.Misses.Add(1)
		c.metrics.cat(cat).Misses.Add(1)
		return nil, false
	}
	now := c.now()
	if e.expired(now) {
		c.dropEntry(key)
		c.metrics.cat(e.category).Size.Add(-1)
		c.metrics.Misses.Add(1)
		c.metrics.cat(cat).Misses.Add(1)
		c.metrics.Evictions.Add(1)
		c.metrics.cat(e.category).Evictions.Add(1)
		return nil, false
	}
	if !e.predicted.IsZero() {
		if d := now.Sub(e.predicted); d > -predictionTolerance && d < predictionTolerance {
			c.metrics.PredictionHit.Add(1)
		} else {
			c.metrics.PredictionMiss.Add(1)
		}
	}
	e.recordAccess(now)
	c.metrics.Hits.Add(1)
	c.metrics.cat(cat).Hits.Add(1)
	return e.value, true
}

// Set inserts or replaces the value under (cat, args) with the
// category default TTL.
func (c *Cache) Set(cat Category, value any, args ...any) {
	c.SetTTL(cat, value, cat.TTL(), args...)
}

// SetTTL is Set with an explicit TTL override.
func (c *Cache) SetTTL(cat Category, value any, ttl time.Duration, args ...any) {
	key := Key(cat, args...)
	unlock := c.lockKey(key)
	defer unlock()

	isNew := c.storeEntry(key, newEntry(value, cat, c.now(), ttl))
	c.metrics.Sets.Add(1)
	c.metrics.cat(cat).Sets.Add(1)
	if isNew {
		c.metrics.cat(cat).Size.Add(1)
	}
}

// Delete removes (cat, args) if present.
func (c *Cache) Delete(cat Category, args ...any) bool {
	key := Key(cat, args...)
	unlock := c.lockKey(key)
	defer unlock()

	e := c.dropEntry(key)
	if e == nil {
		return false
	}
	c.metrics.cat(e.category).Size.Add(-1)
	return true
}

// keysSnapshot copies the current key set. Used by sweeps, which then
// re-check each key under its own lock.
func (c *Cache) keysSnapshot() []string {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// InvalidateCategory removes every entry tagged with cat and returns
// the number removed. Locks are taken lazily per key during the sweep;
// readers observe each entry either present or absent, never torn.
func (c *Cache) InvalidateCategory(cat Category) int {
	removed := 0
	for _, key := range c.keysSnapshot() {
		if keyCategory(key) != cat {
			continue
		}
		unlock := c.lockKey(key)
		e := c.loadEntry(key)
		if e != nil && e.category == cat {
			c.dropEntry(key)
			c.metrics.cat(cat).Size.Add(-1)
			c.metrics.Evictions.Add(1)
			c.metrics.cat(cat).Evictions.Add(1)
			removed++
		}
		unlock()
	}
	return removed
}

// InvalidateRelated invalidates every category one hop away from cat
// in the rule graph and returns the total entries removed. cat itself
// is left untouched.
func (c *Cache) InvalidateRelated(cat Category) int {
	total := 0
	for _, dep := range Related(cat) {
		total += c.InvalidateCategory(dep)
	}
	return total
}

// CleanupExpired sweeps the whole map dropping expired entries.
// Intended for periodic background use.
func (c *Cache) CleanupExpired() int {
	removed := 0
	for _, key := range c.keysSnapshot() {
		unlock := c.lockKey(key)
		e := c.loadEntry(key)
		if e != nil && e.expired(c.now()) {
			c.dropEntry(key)
			c.metrics.cat(e.category).Size.Add(-1)
			c.metrics.Evictions.Add(1)
			c.metrics.cat(e.category).Evictions.Add(1)
			removed++
		}
		unlock()
	}
	c.metrics.Cleanups.Add(1)
	return removed
}

// Metrics returns a snapshot of all counters and current sizes.
func (c *Cache) Metrics() Snapshot {
	return c.metrics.Snapshot()
}

// Size returns the live entry count of one category.
func (c *Cache) Size(cat Category) int64 {
	return c.metrics.cat(cat).Size.Load()
}
