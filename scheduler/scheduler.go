// Package scheduler provides the process-wide background executor shared by
// the registry store and on-demand sources: a bounded worker pool draining
// a shared job queue.
package scheduler

import (
	"sync"

	"github.com/nghyane/propflow/internal/logging"
)

// DefaultWorkers is used when a Scheduler is built with Workers <= 0.
const DefaultWorkers = 8

type job struct {
	fn func()
}

// Scheduler runs submitted jobs on a fixed pool of goroutines. The queue is
// a buffered channel of 1024 jobs, not an unbounded queue: Submit blocks
// while it is full. Jobs are dequeued in submission order, but each goes
// to whichever worker is free, so with more than one worker two jobs may
// run concurrently and finish in either order; no ordering between jobs
// is promised.
type Scheduler struct {
	queue   chan job
	workers int
	wg      sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
}

// New creates and starts a Scheduler with the given number of workers.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s := &Scheduler{
		queue:   make(chan job, 1024),
		workers: workers,
		done:    make(chan struct{}),
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Errorf("scheduler: job panicked: %v", r)
				}
			}()
			j.fn()
		}()
	}
}

// Submit enqueues fn to run asynchronously on the worker pool. It never
// blocks the caller except under extreme, sustained backlog (the channel
// buffer is large but finite); callers that need a hard non-blocking
// guarantee should use TrySubmit. A job racing a concurrent Shutdown is
// silently dropped.
func (s *Scheduler) Submit(fn func()) {
	defer func() { _ = recover() }()
	select {
	case <-s.done:
		return
	default:
	}
	s.queue <- job{fn: fn}
}

// TrySubmit enqueues fn only if the queue has room, returning false
// otherwise. Useful for best-effort work such as coalesced publishes.
func (s *Scheduler) TrySubmit(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- job{fn: fn}:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting new jobs, drains the queue best-effort and waits
// for in-flight jobs to finish. Safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.queue)
	})
	s.wg.Wait()
}

var (
	globalOnce sync.Once
	global     *Scheduler
)

// Global returns the process-wide scheduler, created lazily with
// DefaultWorkers. Components that don't need an isolated pool (tests,
// notification dispatch, on-demand loads) share this instance.
func Global() *Scheduler {
	globalOnce.Do(func() {
		global = New(DefaultWorkers)
	})
	return global
}
