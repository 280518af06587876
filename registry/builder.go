package registry

import (
	"github.com/nghyane/propflow/internal/corestore"
	"github.com/nghyane/propflow/internal/layer"
	"github.com/nghyane/propflow/scheduler"
	"github.com/nghyane/propflow/source"
)

// sourceSpec captures one Builder.Add call pending assembly into a layer.
type sourceSpec struct {
	src      source.Source
	alias    string
	priority int
}

// Builder accumulates sources with their alias and priority and assembles
// them into a Registry. A Builder is not safe for concurrent use; build
// the registry on a single goroutine during startup.
type Builder struct {
	specs []sourceSpec
	sched *scheduler.Scheduler
}

// NewBuilder constructs an empty Builder. Sources are dispatched on the
// process-wide scheduler unless WithScheduler overrides it.
func NewBuilder() *Builder {
	return &Builder{sched: scheduler.Global()}
}

// WithScheduler overrides the scheduler the resulting Registry's store and
// on-demand sources dispatch notifications on, mainly for tests that want
// an isolated worker pool.
func (b *Builder) WithScheduler(sched *scheduler.Scheduler) *Builder {
	b.sched = sched
	return b
}

// Add registers src as a layer. priority determines resolution order among
// layers contributing the same key: higher priority wins. alias names the
// layer for diagnostics; an empty alias falls back to src.ID().
func (b *Builder) Add(src source.Source, alias string, priority int) *Builder {
	b.specs = append(b.specs, sourceSpec{src: src, alias: alias, priority: priority})
	return b
}

// Build assembles the accumulated sources into layers, links them into a
// chain, pulls each layer's initial snapshot, and wires any on-demand
// sources' unknown-key hook into the store.
func (b *Builder) Build() *Registry {
	store := corestore.New(b.sched)

	layers := make([]*layer.Layer, 0, len(b.specs))
	for _, spec := range b.specs {
		l := layer.New(spec.src, spec.alias, spec.priority, store)
		layers = append(layers, l)

		if od, ok := spec.src.(OnDemandSource); ok {
			store.RegisterUnknownKeyHook(od.RegisterKey)
		}
	}

	chain := layer.NewChain(layers)
	chain.InitializeAll()

	return &Registry{
		store: store,
		chain: chain,
		sched: b.sched,
		bound: make(map[string]bool),
	}
}
