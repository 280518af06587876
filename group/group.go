// Package group combines 2..5 typed props into a single observer that
// publishes atomic tuples. Arities are fixed-size heterogeneous records;
// Go's lack of variadic generics means each arity is its own type
// (Tuple2..Tuple5 / Group2..Group5), but the update/publish logic is
// identical positional replace-then-copy across all of them.
package group

import "github.com/nghyane/propflow/prop"

// member is the minimal surface group needs from a bound Prop[T].
type member[T any] interface {
	Get() (*T, error)
	Subscribe(valueHandler func(*T), errorHandler func(error)) func()
}

var _ member[string] = (*prop.Prop[string])(nil)

// Tuple2 holds a point-in-time snapshot of two props' values.
type Tuple2[A, B any] struct {
	A *A
	B *B
}

func (t Tuple2[A, B]) nonNil() bool { return t.A != nil && t.B != nil }

// Group2 combines two props into a single tuple observer.
type Group2[A, B any] struct {
	base[Tuple2[A, B]]
}

// Of2 builds a Group2 over pa and pb.
func Of2[A, B any](pa member[A], pb member[B]) *Group2[A, B] {
	g := &Group2[A, B]{}
	g.init()

	unsubA := pa.Subscribe(func(v *A) {
		g.update(func(t *Tuple2[A, B]) { t.A = v })
	}, g.onMemberError)
	unsubB := pb.Subscribe(func(v *B) {
		g.update(func(t *Tuple2[A, B]) { t.B = v })
	}, g.onMemberError)
	g.unsubscribers = []func(){unsubA, unsubB}

	return g
}

func (g *Group2[A, B]) Get() (Tuple2[A, B], bool) { return g.get() }
func (g *Group2[A, B]) Subscribe(fn func(Tuple2[A, B])) func() { return g.subscribe(fn) }
func (g *Group2[A, B]) Close()                    { g.close() }

// Tuple3 holds a point-in-time snapshot of three props' values.
type Tuple3[A, B, C any] struct {
	A *A
	B *B
	C *C
}

func (t Tuple3[A, B, C]) nonNil() bool { return t.A != nil && t.B != nil && t.C != nil }

// Group3 combines three props into a single tuple observer.
type Group3[A, B, C any] struct {
	base[Tuple3[A, B, C]]
}

// Of3 builds a Group3 over three member props.
func Of3[A, B, C any](pa member[A], pb member[B], pc member[C]) *Group3[A, B, C] {
	g := &Group3[A, B, C]{}
	g.init()

	u1 := pa.Subscribe(func(v *A) { g.update(func(t *Tuple3[A, B, C]) { t.A = v }) }, g.onMemberError)
	u2 := pb.Subscribe(func(v *B) { g.update(func(t *Tuple3[A, B, C]) { t.B = v }) }, g.onMemberError)
	u3 := pc.Subscribe(func(v *C) { g.update(func(t *Tuple3[A, B, C]) { t.C = v }) }, g.onMemberError)
	g.unsubscribers = []func(){u1, u2, u3}

	return g
}

func (g *Group3[A, B, C]) Get() (Tuple3[A, B, C], bool)         { return g.get() }
func (g *Group3[A, B, C]) Subscribe(fn func(Tuple3[A, B, C])) func() { return g.subscribe(fn) }
func (g *Group3[A, B, C]) Close()                               { g.close() }

// Tuple4 holds a point-in-time snapshot of four props' values.
type Tuple4[A, B, C, D any] struct {
	A *A
	B *B
	C *C
	D *D
}

func (t Tuple4[A, B, C, D]) nonNil() bool {
	return t.A != nil && t.B != nil && t.C != nil && t.D != nil
}

// Group4 combines four props into a single tuple observer.
type Group4[A, B, C, D any] struct {
	base[Tuple4[A, B, C, D]]
}

// Of4 builds a Group4 over four member props.
func Of4[A, B, C, D any](pa member[A], pb member[B], pc member[C], pd member[D]) *Group4[A, B, C, D] {
	g := &Group4[A, B, C, D]{}
	g.init()

	u1 := pa.Subscribe(func(v *A) { g.update(func(t *Tuple4[A, B, C, D]) { t.A = v }) }, g.onMemberError)
	u2 := pb.Subscribe(func(v *B) { g.update(func(t *Tuple4[A, B, C, D]) { t.B = v }) }, g.onMemberError)
	u3 := pc.Subscribe(func(v *C) { g.update(func(t *Tuple4[A, B, C, D]) { t.C = v }) }, g.onMemberError)
	u4 := pd.Subscribe(func(v *D) { g.update(func(t *Tuple4[A, B, C, D]) { t.D = v }) }, g.onMemberError)
	g.unsubscribers = []func(){u1, u2, u3, u4}

	return g
}

func (g *Group4[A, B, C, D]) Get() (Tuple4[A, B, C, D], bool)         { return g.get() }
func (g *Group4[A, B, C, D]) Subscribe(fn func(Tuple4[A, B, C, D])) func() { return g.subscribe(fn) }
func (g *Group4[A, B, C, D]) Close()                                  { g.close() }

// Tuple5 holds a point-in-time snapshot of five props' values.
type Tuple5[A, B, C, D, E any] struct {
	A *A
	B *B
	C *C
	D *D
	E *E
}

func (t Tuple5[A, B, C, D, E]) nonNil() bool {
	return t.A != nil && t.B != nil && t.C != nil && t.D != nil && t.E != nil
}

// Group5 combines five props into a single tuple observer.
type Group5[A, B, C, D, E any] struct {
	base[Tuple5[A, B, C, D, E]]
}

// Of5 builds a Group5 over five member props.
func Of5[A, B, C, D, E any](pa member[A], pb member[B], pc member[C], pd member[D], pe member[E]) *Group5[A, B, C, D, E] {
	g := &Group5[A, B, C, D, E]{}
	g.init()

	u1 := pa.Subscribe(func(v *A) { g.update(func(t *Tuple5[A, B, C, D, E]) { t.A = v }) }, g.onMemberError)
	u2 := pb.Subscribe(func(v *B) { g.update(func(t *Tuple5[A, B, C, D, E]) { t.B = v }) }, g.onMemberError)
	u3 := pc.Subscribe(func(v *C) { g.update(func(t *Tuple5[A, B, C, D, E]) { t.C = v }) }, g.onMemberError)
	u4 := pd.Subscribe(func(v *D) { g.update(func(t *Tuple5[A, B, C, D, E]) { t.D = v }) }, g.onMemberError)
	u5 := pe.Subscribe(func(v *E) { g.update(func(t *Tuple5[A, B, C, D, E]) { t.E = v }) }, g.onMemberError)
	g.unsubscribers = []func(){u1, u2, u3, u4, u5}

	return g
}

func (g *Group5[A, B, C, D, E]) Get() (Tuple5[A, B, C, D, E], bool)         { return g.get() }
func (g *Group5[A, B, C, D, E]) Subscribe(fn func(Tuple5[A, B, C, D, E])) func() { return g.subscribe(fn) }
func (g *Group5[A, B, C, D, E]) Close()                                    { g.close() }
