// Package sched is the coarse periodic driver for the background
// procedures: a second-granularity ticker firing named jobs at most
// once per minute boundary. Overlapping runs of one job are skipped,
// never queued, and a late tick skips straight to the current period.
package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Canonical job names.
const (
	JobClose             = "close"
	JobRemind            = "remind"
	JobDelete            = "delete"
	JobRosterMaintenance = "roster_maintenance"
	JobCacheMaintenance  = "cache_maintenance"
	JobCreateDaily       = "create_daily_events"
)

// JobFunc is one scheduled procedure. Errors are logged, never
// propagated to the loop.
type JobFunc func(ctx context.Context) error

// Schedule decides whether a job is due at a given minute.
type Schedule interface {
	Due(t time.Time) bool
}

type everyMinutes int

func (n everyMinutes) Due(t time.Time) bool {
	return (t.Unix()/60)%int64(n) == 0
}

// EveryMinutes fires on every n-th minute boundary.
func EveryMinutes(n int) Schedule {
	if n < 1 {
		n = 1
	}
	return everyMinutes(n)
}

type dailyAt struct{ hh, mm int }

func (d dailyAt) Due(t time.Time) bool {
	return t.Hour() == d.hh && t.Minute() == d.mm
}

// DailyAt fires once a day at hh:mm in the scheduler's clock zone.
func DailyAt(hh, mm int) Schedule { return dailyAt{hh: hh, mm: mm} }

type job struct {
	name  string
	sched Schedule
	fn    JobFunc

	mu      sync.Mutex // held while the job runs; TryLock skip
	lastRun time.Time  // minute boundary, guarded by Scheduler.mu
}

// Scheduler drives the registered jobs.
type Scheduler struct {
	log *zap.Logger
	now func() time.Time

	mu   sync.Mutex
	jobs []*job

	wg sync.WaitGroup
}

// New builds an empty scheduler.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log, now: time.Now}
}

// SetClock replaces the time source (tests).
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Register adds a named job. Registration order is fire order within a
// tick.
func (s *Scheduler) Register(name string, sched Schedule, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{name: name, sched: sched, fn: fn})
}

// Run ticks every second until ctx is cancelled, then joins every
// in-flight job before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick fires every due job for the minute containing now. The
// per-minute dedup makes extra ticks within a minute no-ops, and
// minutes missed while the process was stalled are simply never fired.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		if !j.sched.Due(minute) {
			continue
		}
		s.mu.Lock()
		already := j.lastRun.Equal(minute)
		if !already {
			j.lastRun = minute
		}
		s.mu.Unlock()
		if already {
			continue
		}
		if !j.mu.TryLock() {
			s.log.Warn("job still running, skipping period", zap.String("job", j.name))
			continue
		}

		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			defer j.mu.Unlock()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("job panicked", zap.String("job", j.name), zap.Any("panic", r))
				}
			}()
			if err := j.fn(ctx); err != nil {
				s.log.Error("job failed", zap.String("job", j.name), zap.Error(err))
			}
		}(j)
	}
}
