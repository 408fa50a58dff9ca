package cache

import "time"

// ringSize bounds the recent-access ring used for prediction.
const ringSize = 20

// hotThreshold is the access count above which an entry is flagged hot.
const hotThreshold = 5

// entry is a single cached value. All fields are guarded by the
// per-key lock of the entry's key.
type entry struct {
	value      any
	category   Category
	createdAt  time.Time
	ttl        time.Duration
	accessCnt  int
	lastAccess time.Time
	ring       []time.Time // most recent accesses, oldest first
	predicted  time.Time   // zero until the ring has >= 3 samples
	hot        bool        // sticky once set
}

func newEntry(value any, cat Category, now time.Time, ttl time.Duration) *entry {
	return &entry{
		value:     value,
		category:  cat,
		createdAt: now,
		ttl:       ttl,
		ring:      make([]time.Time, 0, ringSize),
	}
}

// expired reports whether the entry's TTL elapsed at now.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// recordAccess updates the access statistics and refreshes the
// next-access prediction.
func (e *entry) recordAccess(now time.Time) {
	e.accessCnt++
	e.lastAccess = now
	if e.accessCnt > hotThreshold {
		e.hot = true
	}
	if len(e.ring) == ringSize {
		copy(e.ring, e.ring[1:])
		e.ring = e.ring[:ringSize-1]
	}
	e.ring = append(e.ring, now)
	e.predict()
}

// predict sets the predicted next access to the last access plus the
// arithmetic mean of adjacent inter-access intervals. Undefined (zero)
// below 3 samples.
func (e *entry) predict() {
	if len(e.ring) < 3 {
		return
	}
	var total time.Duration
	for i := 1; i < len(e.ring); i++ {
		total += e.ring[i].Sub(e.ring[i-1])
	}
	mean := total / time.Duration(len(e.ring)-1)
	e.predicted = e.lastAccess.Add(mean)
}

// shouldPreload reports whether the entry qualifies for a predictive
// refresh: hot, with a prediction that lands within the final 20% of
// the TTL window measured from now.
func (e *entry) shouldPreload(now time.Time) bool {
	if !e.hot || e.predicted.IsZero() {
		return false
	}
	until := e.predicted.Sub(now)
	return until > 0 && until < time.Duration(float64(e.ttl)*0.2)
}
