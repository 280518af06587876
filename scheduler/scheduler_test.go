package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmittedJobsRun(t *testing.T) {
	s := New(4)
	defer s.Shutdown()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		s.Submit(func() {
			ran.Add(1)
			wg.Done()
		})
	}
	wg.Wait()

	if got := ran.Load(); got != 50 {
		t.Fatalf("expected 50 jobs run, got %d", got)
	}
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	s := New(1)
	defer s.Shutdown()

	s.Submit(func() { panic("boom") })

	done := make(chan struct{})
	s.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after a panicking job")
	}
}

func TestShutdownWaitsForInflightJobs(t *testing.T) {
	s := New(2)

	var finished atomic.Bool
	started := make(chan struct{})
	s.Submit(func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	s.Shutdown()

	if !finished.Load() {
		t.Fatal("Shutdown returned before the in-flight job finished")
	}
}

func TestSubmitAfterShutdownIsDropped(t *testing.T) {
	s := New(1)
	s.Shutdown()

	// must not panic on the closed queue
	s.Submit(func() { t.Error("job ran after shutdown") })
	if s.TrySubmit(func() {}) {
		t.Fatal("TrySubmit accepted a job after shutdown")
	}
}

func TestGlobalReturnsSameInstance(t *testing.T) {
	if Global() != Global() {
		t.Fatal("Global must return a single shared scheduler")
	}
}
