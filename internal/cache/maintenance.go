package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Maintain runs the periodic maintenance loop until ctx is cancelled:
// expired-entry sweep, then a preload scan. Failures are logged and
// swallowed; maintenance never surfaces errors to callers.
func (c *Cache) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance performs one maintenance pass.
func (c *Cache) RunMaintenance(ctx context.Context) {
	defer c.swallow("maintenance")
	removed := c.CleanupExpired()
	scheduled := c.schedulePreloads(ctx)
	if removed > 0 || scheduled > 0 {
		c.log.Debug("cache maintenance",
			zap.Int("expired", removed),
			zap.Int("preloads_scheduled", scheduled))
	}
}

// schedulePreloads scans for preload-eligible hot entries and spawns a
// task per key not already being preloaded.
func (c *Cache) schedulePreloads(ctx context.Context) int {
	now := c.now()
	scheduled := 0
	for _, key := range c.keysSnapshot() {
		unlock := c.lockKey(key)
		e := c.loadEntry(key)
		var predicted, created time.Time
		var ttl time.Duration
		eligible := e != nil && e.shouldPreload(now)
		if eligible {
			predicted, created, ttl = e.predicted, e.createdAt, e.ttl
		}
		unlock()
		if !eligible {
			continue
		}

		c.preloadMu.Lock()
		if _, active := c.preloads[key]; active {
			c.preloadMu.Unlock()
			continue
		}
		c.preloads[key] = struct{}{}
		c.preloadMu.Unlock()

		scheduled++
		go c.preloadTask(ctx, key, predicted, created, ttl)
	}
	return scheduled
}

// preloadTask sleeps until prediction − 0.1·TTL (capped at TTL − 1s
// from creation), then refreshes the key via the category's bulk-loader
// hook. The preload counts as successful when the refresh landed a new
// value before the original entry expired.
func (c *Cache) preloadTask(ctx context.Context, key string, predicted, created time.Time, ttl time.Duration) {
	defer func() {
		c.preloadMu.Lock()
		delete(c.preloads, key)
		c.preloadMu.Unlock()
	}()
	defer c.swallow("preload")

	fire := predicted.Add(-ttl / 10)
	if limit := created.Add(ttl - time.Second); fire.After(limit) {
		fire = limit
	}
	if wait := fire.Sub(c.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	c.refreshMu.RLock()
	refresh := c.refreshers[keyCategory(key)]
	c.refreshMu.RUnlock()
	if refresh == nil {
		c.metrics.PreloadWasted.Add(1)
		return
	}

	err := refresh(key)
	expiry := created.Add(ttl)
	if err == nil && c.now().Before(expiry) && c.refreshed(key, created) {
		c.metrics.PreloadSuccess.Add(1)
		return
	}
	if err != nil {
		c.log.Warn("preload refresh failed", zap.String("key", key), zap.Error(err))
	}
	c.metrics.PreloadWasted.Add(1)
}

// refreshed reports whether the key now holds an entry newer than the
// one the preload was scheduled for.
func (c *Cache) refreshed(key string, before time.Time) bool {
	unlock := c.lockKey(key)
	defer unlock()
	e := c.loadEntry(key)
	return e != nil && e.createdAt.After(before)
}

// swallow recovers a panic from a background task and logs it. The
// cache map stays consistent: size counters are only touched inside
// per-key critical sections that cannot panic midway.
func (c *Cache) swallow(task string) {
	if r := recover(); r != nil {
		c.log.Error("cache background task panicked",
			zap.String("task", task), zap.Any("panic", r))
	}
}
