// Package layer implements the Layer and layer-chain primitives: a layer
// binds a Source at a priority, mirrors its last-observed snapshot, and
// diffs incoming snapshots into per-key publishes against whatever
// downstream store it was built with.
package layer

import (
	"sync"
	"sync/atomic"

	"github.com/nghyane/propflow/internal/logging"
	"github.com/nghyane/propflow/source"
)

var regSeq atomic.Uint64

// Store is the downstream collaborator a Layer publishes diffs to. The
// registry store implements this.
type Store interface {
	// Put records that this layer currently contributes value for key, or
	// withdraws it when value is nil.
	Put(key string, value *string, layer *Layer)
}

// Layer pairs a Source with a priority and keeps a private mirror of its
// last-accepted snapshot. Exactly one Layer exists per (registry, source)
// for the registry's lifetime; prev/next are set once by the chain builder
// and never mutated afterwards.
type Layer struct {
	Alias    string
	Priority int
	Src      source.Source

	seq   uint64
	store Store

	mu          sync.Mutex
	mirror      map[string]string
	initialized bool
	initOnce    sync.Once

	prev *Layer
	next *Layer
}

// New constructs a Layer bound to src at priority, publishing diffs to
// store. It registers itself as the source's downstream but does not yet
// pull an initial snapshot; call Initialize for that.
func New(src source.Source, alias string, priority int, store Store) *Layer {
	if alias == "" {
		alias = src.ID()
	}
	l := &Layer{
		Alias:    alias,
		Priority: priority,
		Src:      src,
		seq:      regSeq.Add(1),
		store:    store,
		mirror:   make(map[string]string),
	}
	src.Register(l.accept)
	return l
}

// Seq is this layer's creation order, used to break ties between layers
// of equal priority: the later-created layer wins. Creation order follows
// builder registration order, so the tie-break is stable across rebuilds
// that add sources in the same order.
func (l *Layer) Seq() uint64 { return l.seq }

// Prev returns the next-lower-priority neighbor, or nil if this is the
// lowest-priority layer.
func (l *Layer) Prev() *Layer { return l.prev }

// Next returns the next-higher-priority neighbor, or nil if this is the
// highest-priority layer.
func (l *Layer) Next() *Layer { return l.next }

func (l *Layer) setNeighbors(prev, next *Layer) {
	l.prev, l.next = prev, next
}

// Initialize triggers one source refresh if this layer has never accepted
// a snapshot. Idempotent: subsequent calls are no-ops.
func (l *Layer) Initialize() {
	l.initOnce.Do(func() {
		if !l.Initialized() {
			l.Src.Refresh()
		}
	})
}

// Mirror returns a defensive copy of the last-accepted snapshot, mainly for
// tests and diagnostics.
func (l *Layer) Mirror() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.mirror))
	for k, v := range l.mirror {
		out[k] = v
	}
	return out
}

// accept is the diffing algorithm. It holds the per-layer mutex for its
// whole duration: a second accept beginning before the first returns
// blocks, rather than a tryLock that would silently drop updates under
// contention.
func (l *Layer) accept(snap source.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 1. removed keys
	for k := range l.mirror {
		if _, ok := snap[k]; !ok {
			delete(l.mirror, k)
			l.publish(k, nil)
		}
	}

	// 2 & 3. changed and new keys
	for k, v := range snap {
		if old, ok := l.mirror[k]; ok {
			if old != v {
				l.mirror[k] = v
				val := v
				l.publish(k, &val)
			}
			continue
		}
		l.mirror[k] = v
		val := v
		l.publish(k, &val)
	}

	l.initialized = true
}

func (l *Layer) publish(key string, value *string) {
	if l.store == nil {
		logging.Warnf("layer %s: accepted key %q with no attached store", l.Alias, key)
		return
	}
	l.store.Put(key, value, l)
}

// Initialized reports whether accept has run at least once.
func (l *Layer) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}
