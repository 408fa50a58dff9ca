package store

import (
	"strings"
	"sync"
	"time"
)

// slowQueryThreshold marks queries whose duration should be counted as
// slow.
const slowQueryThreshold = 100 * time.Millisecond

// QueryKind buckets statements for observability.
type QueryKind string

const (
	KindSelect QueryKind = "select"
	KindInsert QueryKind = "insert"
	KindUpdate QueryKind = "update"
	KindDelete QueryKind = "delete"
	KindOther  QueryKind = "other"
)

// classify derives the query kind from the first SQL token.
func classify(query string) QueryKind {
	q := strings.TrimSpace(query)
	if len(q) < 6 {
		return KindOther
	}
	switch strings.ToLower(q[:6]) {
	case "select":
		return KindSelect
	case "insert":
		return KindInsert
	case "update":
		return KindUpdate
	case "delete":
		return KindDelete
	default:
		return KindOther
	}
}

// QueryStats aggregates per-kind counters.
type QueryStats struct {
	Count       int64
	TotalTime   time.Duration
	SlowQueries int64
}

// AvgDuration returns the mean query duration for the kind.
func (s QueryStats) AvgDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Count)
}

type queryMetrics struct {
	mu    sync.Mutex
	kinds map[QueryKind]*QueryStats
}

func newQueryMetrics() *queryMetrics {
	return &queryMetrics{kinds: make(map[QueryKind]*QueryStats)}
}

func (m *queryMetrics) record(kind QueryKind, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.kinds[kind]
	if s == nil {
		s = &QueryStats{}
		m.kinds[kind] = s
	}
	s.Count++
	s.TotalTime += d
	if d > slowQueryThreshold {
		s.SlowQueries++
	}
}

// snapshot copies the per-kind stats.
func (m *queryMetrics) snapshot() map[QueryKind]QueryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[QueryKind]QueryStats, len(m.kinds))
	for k, v := range m.kinds {
		out[k] = *v
	}
	return out
}
