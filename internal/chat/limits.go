package chat

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/guildtools/herald/internal/herr"
)

// adminCooldown is the per-user gap enforced on admin commands.
const adminCooldown = 300 * time.Second

// Limiter gates command admission: a process-wide leaky bucket plus a
// per-admin cooldown map. Excess is rejected with herr.ErrCooldown, not
// queued.
type Limiter struct {
	bucket *rate.Limiter

	mu       sync.Mutex
	lastUsed map[string]time.Time
	now      func() time.Time
}

// NewLimiter builds a limiter admitting perMinute commands.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		lastUsed: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Admit checks the global bucket. Non-blocking: callers surface the
// cooldown error to the user rather than waiting out the bucket.
func (l *Limiter) Admit() error {
	if !l.bucket.Allow() {
		return fmt.Errorf("%w: global command rate exceeded", herr.ErrCooldown)
	}
	return nil
}

// AdmitAdmin checks the global bucket and the per-user cooldown,
// recording the use on success.
func (l *Limiter) AdmitAdmin(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.lastUsed[userID]; ok {
		if left := adminCooldown - now.Sub(last); left > 0 {
			return fmt.Errorf("%w: retry in %s", herr.ErrCooldown, left.Round(time.Second))
		}
	}
	if !l.bucket.Allow() {
		return fmt.Errorf("%w: global command rate exceeded", herr.ErrCooldown)
	}
	l.lastUsed[userID] = now
	return nil
}

// Prune drops cooldown entries older than the cooldown window. Called
// from scheduler maintenance so the map stays bounded.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-adminCooldown)
	dropped := 0
	for id, last := range l.lastUsed {
		if last.Before(cutoff) {
			delete(l.lastUsed, id)
			dropped++
		}
	}
	return dropped
}
