package memory

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/avatarmem/logging"
)

// Job is a unit of background work. The context is cancelled when the
// scheduler gives up waiting on shutdown.
type Job func(ctx context.Context)

type queuedJob struct {
	name string
	ctx  context.Context
	fn   Job
}

// Scheduler runs background jobs on a fixed pool of workers. A panicking
// job is recovered and logged; it never takes the process down.
type Scheduler struct {
	jobs    chan queuedJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	base    context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
	panics  atomic.Int64
}

// NewScheduler starts workers goroutines reading from a queue of queueSize.
func NewScheduler(workers, queueSize int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:   make(chan queuedJob, queueSize),
		base:   base,
		cancel: cancel,
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Submit enqueues fn without blocking. The logger of ctx is carried over to
// the job's context; ctx's deadline and cancellation are not, since the job
// outlives the caller.
func (s *Scheduler) Submit(ctx context.Context, name string, fn Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return goerr.Wrap(ErrSchedulerClosed, "job rejected", goerr.V("job", name))
	}

	jobCtx := logging.With(s.base, logging.From(ctx))
	select {
	case s.jobs <- queuedJob{name: name, ctx: jobCtx, fn: fn}:
		return nil
	default:
		s.dropped.Add(1)
		return goerr.Wrap(ErrQueueFull, "job rejected", goerr.V("job", name))
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		s.run(j)
	}
}

func (s *Scheduler) run(j queuedJob) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			logging.From(j.ctx).Error("background job panicked",
				"job", j.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	j.fn(j.ctx)
}

// Close stops accepting jobs and waits for queued and running ones. If ctx
// expires first, running jobs are cancelled and abandoned.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return goerr.Wrap(ctx.Err(), "scheduler shutdown abandoned running jobs",
			goerr.V("pending", len(s.jobs)))
	}
}

// Pending returns the number of queued jobs not yet started.
func (s *Scheduler) Pending() int { return len(s.jobs) }

// Dropped returns how many jobs were rejected.
func (s *Scheduler) Dropped() int64 { return s.dropped.Load() }

// Panics returns how many jobs panicked.
func (s *Scheduler) Panics() int64 { return s.panics.Load() }
