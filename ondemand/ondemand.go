// Package ondemand implements the lazy source base: a Source that
// materializes keys on first request, deduplicating concurrent loads of
// the same key via golang.org/x/sync/singleflight. Intended for backends
// where fetching all keys up front is expensive, such as remote vaults.
package ondemand

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nghyane/propflow/internal/logging"
	"github.com/nghyane/propflow/scheduler"
	"github.com/nghyane/propflow/source"
)

// LoadFunc fetches the current value for key, blocking I/O allowed: it
// runs in a scheduler job (or, during Refresh, on goroutines that job
// starts), never on the caller's goroutine. A nil result with a nil error
// means "known absent".
type LoadFunc func(ctx context.Context, key string) (*string, error)

// Base implements source.Source for lazily-loaded backends (remote
// secrets managers and similar). Embed it in a concrete backend and set
// Load to the backend-specific fetch.
type Base struct {
	id    string
	Load  LoadFunc
	sched *scheduler.Scheduler

	mu       sync.RWMutex
	loaded   map[string]*string // nil value = known absent
	downstream source.Downstream

	sf singleflight.Group
}

// New creates a Base identified by id, fetching values with load and
// dispatching loads on sched (the global scheduler if nil).
func New(id string, load LoadFunc, sched *scheduler.Scheduler) *Base {
	if sched == nil {
		sched = scheduler.Global()
	}
	return &Base{
		id:     id,
		Load:   load,
		sched:  sched,
		loaded: make(map[string]*string),
	}
}

func (b *Base) ID() string { return b.id }

// Snapshot returns everything loaded so far, with known-absent keys
// filtered out.
func (b *Base) Snapshot() source.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(source.Snapshot, len(b.loaded))
	for k, v := range b.loaded {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func (b *Base) Register(fn source.Downstream) {
	b.mu.Lock()
	b.downstream = fn
	b.mu.Unlock()
}

func (b *Base) publish() {
	b.mu.RLock()
	fn := b.downstream
	b.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(b.Snapshot())
}

// RegisterKey materializes key if it isn't already known: a republish if
// already loaded, a join if a load is already in flight, otherwise a
// single scheduled load. It never blocks the caller.
func (b *Base) RegisterKey(key string) {
	b.mu.RLock()
	_, known := b.loaded[key]
	b.mu.RUnlock()
	if known {
		b.sched.Submit(b.publish)
		return
	}

	b.sched.Submit(func() {
		// Re-check under singleflight: a burst of RegisterKey calls for the
		// same key queues more jobs than there are workers, and the jobs
		// that run after the first flight completes must not start a second
		// load.
		v, err, _ := b.sf.Do(key, func() (any, error) {
			b.mu.RLock()
			val, done := b.loaded[key]
			b.mu.RUnlock()
			if done {
				return val, nil
			}
			return b.Load(context.Background(), key)
		})
		if err != nil {
			logging.WithError(err).Warnf("on-demand source %s: load failed for key", b.id)
			return
		}
		b.mu.Lock()
		b.loaded[key] = v.(*string)
		b.mu.Unlock()
		b.publish()
	})
}

// Refresh re-loads every currently-known key and publishes once, merging
// all results.
func (b *Base) Refresh() {
	b.mu.RLock()
	keys := make([]string, 0, len(b.loaded))
	for k := range b.loaded {
		keys = append(keys, k)
	}
	b.mu.RUnlock()

	if len(keys) == 0 {
		return
	}

	b.sched.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(len(keys))
		for _, key := range keys {
			key := key
			go func() {
				defer wg.Done()
				v, err, _ := b.sf.Do(key, func() (any, error) {
					val, loadErr := b.Load(context.Background(), key)
					return val, loadErr
				})
				if err != nil {
					logging.WithError(err).Warnf("on-demand source %s: refresh failed for key", b.id)
					return
				}
				b.mu.Lock()
				b.loaded[key] = v.(*string)
				b.mu.Unlock()
			}()
		}
		wg.Wait()
		b.publish()
	})
}
