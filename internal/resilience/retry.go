// Package resilience wraps store and chat-platform calls with retry,
// graceful degradation and guild backup/restore.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/herr"
)

// RetryPolicy tunes the resilient-call wrapper for one service.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	Jitter     float64
	Factor     float64
	// Transient classifies retryable errors. Defaults to herr.Transient.
	Transient func(error) bool
}

// DefaultPolicy is used for services without an explicit policy.
var DefaultPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  250 * time.Millisecond,
	Jitter:     0.2,
	Factor:     2.0,
}

// Retrier retries transient failures with exponential backoff.
// Non-transient errors propagate immediately.
type Retrier struct {
	mu       sync.RWMutex
	policies map[string]RetryPolicy
	log      *zap.Logger
}

// NewRetrier builds a retrier with no per-service policies.
func NewRetrier(log *zap.Logger) *Retrier {
	return &Retrier{policies: make(map[string]RetryPolicy), log: log}
}

// SetPolicy installs the retry policy for a service name.
func (r *Retrier) SetPolicy(service string, p RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[service] = p
}

func (r *Retrier) policy(service string) RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[service]; ok {
		return p
	}
	return DefaultPolicy
}

// Do runs fn under the service's retry policy.
func (r *Retrier) Do(ctx context.Context, service string, fn func() error) error {
	p := r.policy(service)
	transient := p.Transient
	if transient == nil {
		transient = herr.Transient
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = p.Jitter
	exp.Multiplier = p.Factor

	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		r.log.Warn("transient failure, retrying",
			zap.String("service", service),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx))
}
