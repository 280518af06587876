package group

import (
	"sync"

	"github.com/nghyane/propflow/internal/logging"
)

// base holds the mutex-protected tuple state and subscriber fan-out shared
// by every arity: mutate under the lock, copy the tuple, release, publish
// the copy.
type base[Tuple any] struct {
	mu            sync.Mutex
	current       Tuple
	nextSubID     int
	subscribers   []subscriber[Tuple]
	unsubscribers []func()
}

type subscriber[Tuple any] struct {
	id int
	fn func(Tuple)
}

func (b *base[Tuple]) init() {
	b.current = *new(Tuple)
}

// update applies mutate to the tuple under the group mutex, then
// publishes a defensive copy to subscribers outside the lock so a
// subscriber calling back into the group cannot deadlock.
func (b *base[Tuple]) update(mutate func(*Tuple)) {
	b.mu.Lock()
	mutate(&b.current)
	snapshot := b.current
	subs := append([]subscriber[Tuple]{}, b.subscribers...)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(snapshot)
	}
}

// get returns the current tuple and whether every slot currently holds a
// non-nil value.
func (b *base[Tuple]) get() (Tuple, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, allSlotsSet(b.current)
}

func (b *base[Tuple]) subscribe(fn func(Tuple)) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers = append(b.subscribers, subscriber[Tuple]{id: id, fn: fn})
	current := b.current
	b.mu.Unlock()

	fn(current)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i := range b.subscribers {
			if b.subscribers[i].id == id {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				break
			}
		}
	}
}

func (b *base[Tuple]) close() {
	b.mu.Lock()
	unsubs := append([]func(){}, b.unsubscribers...)
	b.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (b *base[Tuple]) onMemberError(err error) {
	logging.WithError(err).Warnf("group: member prop reported a decode error")
}

// allSlotsSet uses reflection-free structural knowledge: every field of
// Tuple is a pointer (A, B, C, ...); it's quiescent once none are nil.
// Implemented per-arity via the nonNil method each Tuple type in group.go
// defines, avoiding a reflect dependency for a hot-ish path.
func allSlotsSet(t any) bool {
	switch v := t.(type) {
	case interface{ nonNil() bool }:
		return v.nonNil()
	default:
		return true
	}
}
