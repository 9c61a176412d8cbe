package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NextFunc computes the next activation strictly after now. Implementations
// must be pure so missed ticks simply re-anchor on the current clock.
type NextFunc func(now time.Time) time.Time

// Daily activates every day at hour:minute UTC.
func Daily(hour, minute int) NextFunc {
	return func(now time.Time) time.Time {
		now = now.UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// Weekly activates once a week on weekday at hour:minute UTC.
func Weekly(weekday time.Weekday, hour, minute int) NextFunc {
	daily := Daily(hour, minute)
	return func(now time.Time) time.Time {
		next := daily(now)
		for next.Weekday() != weekday {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// tickInterval bounds activation latency. Schedules are minute-grained, so
// half a minute is plenty.
const tickInterval = 30 * time.Second

type entry struct {
	job  Job
	next NextFunc
	due  time.Time
}

// Scheduler dispatches registered jobs into a pool when their activation
// time passes. It never executes jobs itself.
type Scheduler struct {
	mu      sync.Mutex
	entries []entry
	pool    *Pool
	log     *slog.Logger
	now     func() time.Time
	running bool
	stopCh  chan struct{}
}

// New returns a scheduler dispatching into pool.
func New(pool *Pool, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		pool:   pool,
		log:    log,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Register adds a job to the schedule. Must be called before Start.
func (s *Scheduler) Register(name string, next NextFunc, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{job: Job{Name: name, Fn: fn}, next: next})
}

// Start anchors every entry on the current clock and begins ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.running = true
	now := s.now().UTC()
	for i := range s.entries {
		s.entries[i].due = s.entries[i].next(now)
		s.log.Info("job scheduled",
			"job", s.entries[i].job.Name,
			"next", s.entries[i].due.Format(time.RFC3339))
	}
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

// Stop halts the ticking loop. In-flight jobs keep running in the pool.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

// dispatchDue submits every entry whose activation has passed and re-anchors
// it. A saturated pool drops the activation; the job runs at its next slot.
func (s *Scheduler) dispatchDue() {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		e := &s.entries[i]
		if now.Before(e.due) {
			continue
		}
		e.due = e.next(now)
		if !s.pool.Submit(e.job) {
			s.log.Warn("job queue full, activation skipped",
				"job", e.job.Name, "next", e.due.Format(time.RFC3339))
			continue
		}
		s.log.Info("job dispatched", "job", e.job.Name, "next", e.due.Format(time.RFC3339))
	}
}
