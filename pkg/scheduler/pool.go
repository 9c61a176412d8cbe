// Package scheduler runs herald's recurring jobs: the daily pipeline run,
// the weekly style refresh and the weekly report. Activations are computed
// with plain UTC time arithmetic and executed on a small worker pool, so a
// slow run never delays the clock.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a named unit of background work.
type Job struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Metrics is the slice of the observability provider the pool reports to.
type Metrics interface {
	ObserveJobLatency(ctx context.Context, job string, d time.Duration)
}

const defaultQueueSize = 16

// Pool executes jobs on a fixed set of workers. Submissions are
// non-blocking: when every worker is busy and the queue is full, the
// activation is dropped and the next tick tries again.
type Pool struct {
	mu      sync.Mutex
	size    int
	jobs    chan Job
	log     *slog.Logger
	metrics Metrics
	wg      sync.WaitGroup
	running bool
	stopCh  chan struct{}
}

// NewPool returns a pool of size workers. Metrics may be nil.
func NewPool(size int, log *slog.Logger, metrics Metrics) *Pool {
	if size <= 0 {
		size = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		size:    size,
		jobs:    make(chan Job, defaultQueueSize),
		log:     log,
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers. The pool runs until Stop is called or ctx is
// cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("scheduler: pool already running")
	}
	p.running = true
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Stop halts the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Submit queues a job. It reports false when the pool is saturated or
// stopped; the caller decides whether that matters.
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case job := <-p.jobs:
			p.runJob(ctx, id, job)
		}
	}
}

// runJob executes one job, absorbing panics so a bad job cannot take the
// whole pool down.
func (p *Pool) runJob(ctx context.Context, worker int, job Job) {
	log := p.log.With("job", job.Name, "worker", worker)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", fmt.Sprint(r))
		}
		if p.metrics != nil {
			p.metrics.ObserveJobLatency(ctx, job.Name, time.Since(start))
		}
	}()

	log.Info("job starting")
	if err := job.Fn(ctx); err != nil {
		log.Error("job failed", "error", err)
		return
	}
	log.Info("job finished", "duration_ms", time.Since(start).Milliseconds())
}
