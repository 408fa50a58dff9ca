package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// heatKey makes a key hot with a prediction that lands inside the
// preload window.
func heatKey(t *testing.T, c *Cache, clk *fakeClock, ttl time.Duration) string {
	t.Helper()
	c.SetTTL(RosterData, "projection", ttl, 1)
	// 8 accesses spaced so the mean inter-arrival pushes the prediction
	// into the final 20% of the TTL window.
	step := time.Duration(float64(ttl) * 0.11)
	for i := 0; i < 8; i++ {
		clk.Advance(step)
		_, ok := c.Get(RosterData, 1)
		require.True(t, ok)
	}
	return Key(RosterData, 1)
}

func TestSchedulePreloadsSpawnsOncePerKey(t *testing.T) {
	c, clk := newTestCache(t)
	key := heatKey(t, c, clk, 10*time.Second)

	e := c.loadEntry(key)
	require.NotNil(t, e)
	require.True(t, e.shouldPreload(clk.Now()), "setup must land in preload window")

	var calls atomic.Int32
	done := make(chan struct{})
	c.RegisterRefresher(RosterData, func(k string) error {
		calls.Add(1)
		c.Set(RosterData, "refreshed", 1)
		close(done)
		return nil
	})

	ctx := context.Background()
	n := c.schedulePreloads(ctx)
	assert.Equal(t, 1, n)
	// Second scan: key is in the active-preloads set, no double spawn.
	n = c.schedulePreloads(ctx)
	assert.Equal(t, 0, n)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("preload task never fired")
	}
	assert.Eventually(t, func() bool {
		return c.Metrics().PreloadSuccess == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPreloadWithoutRefresherCountsWasted(t *testing.T) {
	c := New(zap.NewNop())
	now := time.Now()
	c.preloadTask(context.Background(), Key(RosterData, 1), now, now.Add(-time.Minute), 2*time.Minute)
	assert.Equal(t, int64(1), c.Metrics().PreloadWasted)
}

func TestPreloadCancelled(t *testing.T) {
	c := New(zap.NewNop())
	c.RegisterRefresher(RosterData, func(string) error {
		t.Error("refresher must not run after cancel")
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	now := time.Now()
	// Fire instant is an hour away; the cancelled context wins.
	c.preloadTask(ctx, Key(RosterData, 1), now.Add(time.Hour), now, 2*time.Hour)
	assert.Equal(t, int64(0), c.Metrics().PreloadSuccess)
}

func TestMaintenanceSwallowsPanics(t *testing.T) {
	c, clk := newTestCache(t)
	key := heatKey(t, c, clk, 10*time.Second)
	require.True(t, c.loadEntry(key).shouldPreload(clk.Now()))

	fired := make(chan struct{})
	c.RegisterRefresher(RosterData, func(string) error {
		close(fired)
		panic("loader blew up")
	})

	c.RunMaintenance(context.Background()) // must not panic the caller
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("preload never ran")
	}
	assert.Eventually(t, func() bool {
		c.preloadMu.Lock()
		defer c.preloadMu.Unlock()
		return len(c.preloads) == 0
	}, 5*time.Second, 10*time.Millisecond, "panicked task must leave the active set")
}
