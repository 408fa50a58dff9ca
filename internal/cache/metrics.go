package cache

import (
	"sync/atomic"
	"time"
)

// predictionTolerance is how close an actual access must land to the
// predicted instant to count the prediction as correct.
const predictionTolerance = 30 * time.Second

// Metrics holds the engine counters. All fields are atomics so a
// snapshot may be taken without any lock (best effort).
type Metrics struct {
	Hits           atomic.Int64
	Misses         atomic.Int64
	Sets           atomic.Int64
	Evictions      atomic.Int64
	Cleanups       atomic.Int64
	PreloadSuccess atomic.Int64
	PreloadWasted  atomic.Int64
	PredictionHit  atomic.Int64
	PredictionMiss atomic.Int64

	perCat map[Category]*catCounters
}

type catCounters struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Evictions atomic.Int64
	Size      atomic.Int64
}

func newMetrics() *Metrics {
	m := &Metrics{perCat: make(map[Category]*catCounters, len(Categories))}
	for _, c := range Categories {
		m.perCat[c] = &catCounters{}
	}
	return m
}

// cat returns the per-category counters. Unknown categories fall back
// to Temporary so a stray tag can never panic the hot path.
func (m *Metrics) cat(c Category) *catCounters {
	if cc, ok := m.perCat[c]; ok {
		return cc
	}
	return m.perCat[Temporary]
}

// CategorySnapshot is the per-category slice of a metrics snapshot.
type CategorySnapshot struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Size      int64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Hits           int64
	Misses         int64
	Sets           int64
	Evictions      int64
	Cleanups       int64
	PreloadSuccess int64
	PreloadWasted  int64
	PredictionHit  int64
	PredictionMiss int64
	HitRate        float64
	Categories     map[Category]CategorySnapshot
}

// Snapshot copies the counters. Readers see a consistent-enough view;
// individual counters are atomic but the set is not taken under a lock.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Hits:           m.Hits.Load(),
		Misses:         m.Misses.Load(),
		Sets:           m.Sets.Load(),
		Evictions:      m.Evictions.Load(),
		Cleanups:       m.Cleanups.Load(),
		PreloadSuccess: m.PreloadSuccess.Load(),
		PreloadWasted:  m.PreloadWasted.Load(),
		PredictionHit:  m.PredictionHit.Load(),
		PredictionMiss: m.PredictionMiss.Load(),
		Categories:     make(map[Category]CategorySnapshot, len(m.perCat)),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	for c, cc := range m.perCat {
		s.Categories[c] = CategorySnapshot{
			Hits:      cc.Hits.Load(),
			Misses:    cc.Misses.Load(),
			Sets:      cc.Sets.Load(),
			Evictions: cc.Evictions.Load(),
			Size:      cc.Size.Load(),
		}
	}
	return s
}
