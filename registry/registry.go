// Package registry is the public facade over the layered store: it builds
// the layer chain from a builder's sources, binds typed props, and offers
// ad-hoc typed/untyped reads.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nghyane/propflow/internal/corestore"
	"github.com/nghyane/propflow/internal/layer"
	"github.com/nghyane/propflow/prop"
	"github.com/nghyane/propflow/scheduler"
	"github.com/nghyane/propflow/source"
)

// ErrBindingConflict is returned when a second prop is bound to a key
// that already has one bound.
var ErrBindingConflict = errors.New("registry: key already bound")

// OnDemandSource is implemented by sources that can lazily materialize a
// single key (the ondemand package's Base satisfies it). The registry
// hooks RegisterKey into the store's unknown-key callback.
type OnDemandSource interface {
	source.Source
	RegisterKey(key string)
}

// Registry is the bound facade returned by Builder.Build.
type Registry struct {
	store *corestore.Store
	chain *layer.Chain
	sched *scheduler.Scheduler

	mu    sync.Mutex
	bound map[string]bool
}

// Store exposes the underlying registry store for callers that need to
// attach props directly; most callers should use Bind.
func (r *Registry) Store() *corestore.Store { return r.store }

// Chain returns the ordered layer chain, mainly for diagnostics and tests.
func (r *Registry) Chain() *layer.Chain { return r.chain }

// Get performs an untyped ad-hoc read of key's current effective value,
// without binding a prop. If the store holds no state for key (no layer
// has published it and no prop is bound to it) and an on-demand source is
// registered, this triggers a lazy load whose result becomes visible on a
// subsequent call.
func (r *Registry) Get(key string) *string {
	if !r.store.Contains(key) {
		r.store.NotifyUnknownKey(key)
	}
	return r.store.Get(key)
}

// GetConverter performs an ad-hoc typed read using decode, without
// binding a prop. Decode errors surface to the caller.
func GetConverter[T any](r *Registry, key string, decode prop.Decode[T]) (*T, error) {
	raw := r.Get(key)
	val, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: decode key %q: %w", key, err)
	}
	return val, nil
}

// Bind registers p against its key and immediately delivers the current
// effective value synchronously before returning. Binding a second prop
// for an already-bound key fails with ErrBindingConflict and leaves no
// state changed.
func Bind[T any](r *Registry, p *prop.Prop[T]) (*prop.Prop[T], error) {
	r.mu.Lock()
	if r.bound == nil {
		r.bound = make(map[string]bool)
	}
	if r.bound[p.Key()] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrBindingConflict, p.Key())
	}
	r.bound[p.Key()] = true
	r.mu.Unlock()

	p.Attach(r.store)
	return p, nil
}

// Shutdown stops the registry's background scheduler. Bound props and
// groups remain in their last-observed state; in-flight on-demand loads
// and watcher reconnections are not force-cancelled, they drain
// best-effort.
func (r *Registry) Shutdown() {
	r.sched.Shutdown()
}
