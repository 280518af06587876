package registry

import "github.com/nghyane/propflow/prop"

// PropBuilder is the fluent prop constructor: it collects a key and
// options around a decode/encode pair supplied up front.
type PropBuilder[T any] struct {
	key    string
	decode prop.Decode[T]
	encode prop.Encode[T]
	opts   prop.Options[T]
}

// NewPropBuilder starts a fluent builder for key, decoding raw values with
// decode and re-encoding with encode.
func NewPropBuilder[T any](key string, decode prop.Decode[T], encode prop.Encode[T]) *PropBuilder[T] {
	return &PropBuilder[T]{key: key, decode: decode, encode: encode}
}

// WithDefault sets the value Get/Subscribe report when decode(nil) itself
// returns nil (no effective value anywhere in the chain).
func (pb *PropBuilder[T]) WithDefault(v T) *PropBuilder[T] {
	pb.opts.Default = &v
	return pb
}

// WithDescription attaches a human-readable description.
func (pb *PropBuilder[T]) WithDescription(desc string) *PropBuilder[T] {
	pb.opts.Description = desc
	return pb
}

// Required marks the prop as required: Get returns ErrRequiredMissing when
// there is no effective value and no default.
func (pb *PropBuilder[T]) Required() *PropBuilder[T] {
	pb.opts.Required = true
	return pb
}

// Secret marks the prop's value to be redacted from String() and logs.
func (pb *PropBuilder[T]) Secret() *PropBuilder[T] {
	pb.opts.Secret = true
	return pb
}

// Build constructs the unbound Prop. Call registry.Bind to attach it to a
// Registry.
func (pb *PropBuilder[T]) Build() *prop.Prop[T] {
	return prop.New(pb.key, pb.decode, pb.encode, pb.opts)
}

// BindTo is a convenience for Build followed by registry.Bind.
func (pb *PropBuilder[T]) BindTo(r *Registry) (*prop.Prop[T], error) {
	return Bind(r, pb.Build())
}
