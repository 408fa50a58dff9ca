package store

import (
	"sync"
	"time"

	"github.com/guildtools/herald/internal/herr"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a three-state circuit breaker. After threshold consecutive
// failures it opens for coolDown; the first request after the window
// runs as a single half-open trial. A trial success closes the breaker,
// a trial failure re-opens it and restarts the cool-down.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	threshold int
	coolDown  time.Duration
	now       func() time.Time
}

// NewBreaker builds a closed breaker.
func NewBreaker(threshold int, coolDown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
}

// Allow reports whether a request may proceed. While open and inside
// the cool-down it returns herr.ErrCircuitOpen without any side effect;
// after the cool-down it transitions to half-open and admits exactly
// one trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		// A trial is already in flight.
		return herr.ErrCircuitOpen
	default:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return herr.ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		return nil
	}
}

// Record feeds the outcome of an admitted request back in.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.now()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.failures = 0
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
