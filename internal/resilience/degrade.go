package resilience

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/guildtools/herald/internal/herr"
)

// Fallback produces a degraded-mode result for a service.
type Fallback func() (any, error)

// Degrader is the graceful-degradation registry: per service name, a
// fallback and a degraded flag.
type Degrader struct {
	mu        sync.RWMutex
	fallbacks map[string]Fallback
	degraded  map[string]bool
	log       *zap.Logger
}

// NewDegrader builds an empty registry.
func NewDegrader(log *zap.Logger) *Degrader {
	return &Degrader{
		fallbacks: make(map[string]Fallback),
		degraded:  make(map[string]bool),
		log:       log,
	}
}

// Register installs the fallback for a service.
func (d *Degrader) Register(service string, fb Fallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallbacks[service] = fb
}

// Degrade marks the service degraded: failures route to the fallback.
func (d *Degrader) Degrade(service string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.degraded[service] {
		d.log.Warn("service degraded", zap.String("service", service))
	}
	d.degraded[service] = true
}

// Restore clears the degraded flag.
func (d *Degrader) Restore(service string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.degraded[service] {
		d.log.Info("service restored", zap.String("service", service))
	}
	delete(d.degraded, service)
}

// Degraded reports the service flag.
func (d *Degrader) Degraded(service string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.degraded[service]
}

// ExecuteWithFallback invokes primary. When it fails and either the
// service is flagged degraded or the failure itself signals
// degradation (circuit open), the registered fallback answers instead.
func (d *Degrader) ExecuteWithFallback(service string, primary Fallback) (any, error) {
	v, err := primary()
	if err == nil {
		return v, nil
	}
	if !d.Degraded(service) && !errors.Is(err, herr.ErrCircuitOpen) {
		return nil, err
	}
	d.mu.RLock()
	fb := d.fallbacks[service]
	d.mu.RUnlock()
	if fb == nil {
		return nil, err
	}
	d.log.Warn("primary failed, serving fallback",
		zap.String("service", service), zap.Error(err))
	return fb()
}
