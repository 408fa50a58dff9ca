package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildtools/herald/internal/herr"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, 30*time.Second)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errBoom)
	}
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), herr.ErrCircuitOpen)
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, now := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errBoom)
	}

	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow(), "first request after cool-down is the trial")
	assert.Equal(t, BreakerHalfOpen, b.State())
	// Concurrent requests during the trial are rejected.
	assert.ErrorIs(t, b.Allow(), herr.ErrCircuitOpen)

	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	b, now := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errBoom)
	}

	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(errBoom)
	assert.Equal(t, BreakerOpen, b.State())

	// The cool-down restarted; still open just before it elapses.
	*now = now.Add(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), herr.ErrCircuitOpen)
	*now = now.Add(2 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(3)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(errBoom)
	}
	require.NoError(t, b.Allow())
	b.Record(nil)
	// Two more failures: streak restarted, breaker still closed.
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(errBoom)
	}
	assert.Equal(t, BreakerClosed, b.State())
}
