// Package prop implements the typed, reactive property view over a
// registry key: decode/encode, default/required/secret semantics, and
// fan-out to subscribers with serial-per-prop delivery.
package prop

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nghyane/propflow/internal/corestore"
)

// RedactionMarker replaces the raw value of a secret prop in String()
// output.
const RedactionMarker = "<redacted>"

// ErrRequiredMissing is returned by Get when a required prop has no
// effective value and no default.
var ErrRequiredMissing = errors.New("prop: required value missing")

// Decode converts a raw string into T. A nil raw means "no effective
// value"; Decode(nil) may return nil, in which case the prop falls back to
// its default (possibly nil).
type Decode[T any] func(raw *string) (*T, error)

// Encode converts a decoded T back into its string form. Encode(nil)
// must return nil.
type Encode[T any] func(value *T) *string

// Options configures a Prop at construction time.
type Options[T any] struct {
	Default     *T
	Description string
	Required    bool
	Secret      bool
}

// Prop is a typed, reactive view of a single registry key. Exactly one
// Prop instance may be bound per (registry, key); binding is enforced by
// the registry package, not here.
type Prop[T any] struct {
	key    string
	opts   Options[T]
	decode Decode[T]
	encode Encode[T]

	dispatchMu    sync.Mutex // serializes onStoreUpdate, including handler fan-out
	mu            sync.Mutex
	current       *T
	haveValue     bool
	lastVersion   int64
	nextHandlerID int
	valueHandlers []handler[func(*T)]
	errorHandlers []handler[func(error)]
	unsubscribe   func()
}

type handler[F any] struct {
	id int
	fn F
}

// New constructs an unbound Prop for key. Bind it with registry.Bind.
func New[T any](key string, decode Decode[T], encode Encode[T], opts Options[T]) *Prop[T] {
	return &Prop[T]{
		key:         key,
		opts:        opts,
		decode:      decode,
		encode:      encode,
		lastVersion: -1,
	}
}

// Key returns the registry key this prop reads.
func (p *Prop[T]) Key() string { return p.key }

// Required reports whether a missing effective value (and no default) is
// an error on Get.
func (p *Prop[T]) Required() bool { return p.opts.Required }

// Secret reports whether the raw value must never appear in String() or
// log output.
func (p *Prop[T]) Secret() bool { return p.opts.Secret }

// Description returns the prop's human-readable description, if any.
func (p *Prop[T]) Description() string { return p.opts.Description }

// Get returns the cached decoded value. It never blocks: it reads state
// cached from the last store notification.
func (p *Prop[T]) Get() (*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil && p.opts.Required {
		return nil, fmt.Errorf("%w: key %q", ErrRequiredMissing, p.key)
	}
	return p.current, nil
}

// Subscribe registers valueHandler/errorHandler and delivers the current
// value synchronously before returning. The returned func unregisters
// both handlers.
func (p *Prop[T]) Subscribe(valueHandler func(*T), errorHandler func(error)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextHandlerID
	p.nextHandlerID++
	if valueHandler != nil {
		p.valueHandlers = append(p.valueHandlers, handler[func(*T)]{id: id, fn: valueHandler})
	}
	if errorHandler != nil {
		p.errorHandlers = append(p.errorHandlers, handler[func(error)]{id: id, fn: errorHandler})
	}
	current := p.current
	p.mu.Unlock()

	if valueHandler != nil {
		valueHandler(current)
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.valueHandlers = removeHandler(p.valueHandlers, id)
		p.errorHandlers = removeHandler(p.errorHandlers, id)
	}
}

func removeHandler[F any](hs []handler[F], id int) []handler[F] {
	for i := range hs {
		if hs[i].id == id {
			return append(hs[:i], hs[i+1:]...)
		}
	}
	return hs
}

// Encode converts value to its string form, or nil for a nil value.
func (p *Prop[T]) Encode(value *T) *string { return p.encode(value) }

// DecodeRaw converts raw into T using this prop's decoder.
func (p *Prop[T]) DecodeRaw(raw *string) (*T, error) { return p.decode(raw) }

// String renders the current value, redacting it if Secret is set.
func (p *Prop[T]) String() string {
	if p.opts.Secret {
		return RedactionMarker
	}
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur == nil {
		return "<nil>"
	}
	if raw := p.encode(cur); raw != nil {
		return *raw
	}
	return fmt.Sprintf("%v", *cur)
}

// Attach wires this prop to a store watch on its key, delivering the
// current effective value synchronously. Callers outside this module
// should bind through registry.Bind, which additionally enforces the
// one-prop-per-key invariant.
func (p *Prop[T]) Attach(store *corestore.Store) (initial *string) {
	cur, ver, unsub := store.Watch(p.key, p.onStoreUpdate)
	p.mu.Lock()
	p.unsubscribe = unsub
	p.mu.Unlock()
	p.onStoreUpdate(cur, ver)
	return cur
}

// Detach unregisters this prop from its store watch.
func (p *Prop[T]) Detach() {
	p.mu.Lock()
	unsub := p.unsubscribe
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// onStoreUpdate is the store.Watcher callback. It decodes raw and, on
// success, updates the cache and fans out to subscribers; on decode
// failure the cached value is left unchanged and error handlers run
// instead.
//
// version guards against the shared scheduler delivering two
// notifications for this key out of order: a notification whose version
// is not newer than the last applied one is dropped, since a later
// delivery has already superseded it.
func (p *Prop[T]) onStoreUpdate(raw *string, version uint64) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	v := int64(version)

	p.mu.Lock()
	if v <= p.lastVersion && p.haveValue {
		p.mu.Unlock()
		return
	}

	decoded, err := p.decode(raw)
	if err != nil {
		handlers := append([]handler[func(error)]{}, p.errorHandlers...)
		p.mu.Unlock()
		for _, h := range handlers {
			h.fn(err)
		}
		return
	}

	value := decoded
	if value == nil {
		value = p.opts.Default
	}

	p.current = value
	p.haveValue = true
	p.lastVersion = v
	handlers := append([]handler[func(*T)]{}, p.valueHandlers...)
	p.mu.Unlock()

	for _, h := range handlers {
		h.fn(value)
	}
}
