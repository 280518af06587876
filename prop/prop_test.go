package prop

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nghyane/propflow/internal/corestore"
	"github.com/nghyane/propflow/internal/layer"
	"github.com/nghyane/propflow/scheduler"
	"github.com/nghyane/propflow/source"
)

func intDecode(raw *string) (*int, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func intEncode(v *int) *string {
	if v == nil {
		return nil
	}
	s := strconv.Itoa(*v)
	return &s
}

type stubSource struct {
	id string
	fn source.Downstream
}

func (s *stubSource) ID() string                    { return s.id }
func (s *stubSource) Snapshot() source.Snapshot     { return nil }
func (s *stubSource) Register(fn source.Downstream) { s.fn = fn }
func (s *stubSource) Refresh()                      {}

func newAttached(t *testing.T, opts Options[int]) (*Prop[int], *corestore.Store, *layer.Layer) {
	t.Helper()
	st := corestore.New(scheduler.New(2))
	l := layer.New(&stubSource{id: "stub"}, "", 1, st)
	p := New("n", intDecode, intEncode, opts)
	p.Attach(st)
	return p, st, l
}

func strp(s string) *string { return &s }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestGetReturnsDefaultWhenUnset(t *testing.T) {
	p, _, _ := newAttached(t, Options[int]{Default: intPtr(7)})
	v, err := p.Get()
	if err != nil || v == nil || *v != 7 {
		t.Fatalf("expected default 7, got %v (err=%v)", v, err)
	}
}

func intPtr(v int) *int { return &v }

func TestRequiredMissingSurfacesOnGet(t *testing.T) {
	p, _, _ := newAttached(t, Options[int]{Required: true})
	if _, err := p.Get(); !errors.Is(err, ErrRequiredMissing) {
		t.Fatalf("expected ErrRequiredMissing, got %v", err)
	}
}

func TestRequiredSatisfiedByDefault(t *testing.T) {
	p, _, _ := newAttached(t, Options[int]{Required: true, Default: intPtr(3)})
	v, err := p.Get()
	if err != nil || v == nil || *v != 3 {
		t.Fatalf("expected default to satisfy required, got %v (err=%v)", v, err)
	}
}

func TestStoreUpdateReachesSubscribers(t *testing.T) {
	p, st, l := newAttached(t, Options[int]{})

	seen := make(chan *int, 8)
	p.Subscribe(func(v *int) { seen <- v }, nil)

	if v := <-seen; v != nil {
		t.Fatalf("expected initial nil delivery, got %d", *v)
	}

	st.Put("n", strp("42"), l)
	waitFor(t, func() bool {
		v, _ := p.Get()
		return v != nil && *v == 42
	})

	select {
	case v := <-seen:
		if v == nil || *v != 42 {
			t.Fatalf("expected subscriber to receive 42, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the update")
	}
}

func TestDecodeErrorGoesToErrorHandlersAndKeepsCache(t *testing.T) {
	p, st, l := newAttached(t, Options[int]{})

	errs := make(chan error, 8)
	p.Subscribe(nil, func(err error) { errs <- err })

	st.Put("n", strp("10"), l)
	waitFor(t, func() bool {
		v, _ := p.Get()
		return v != nil && *v == 10
	})

	st.Put("n", strp("not-a-number"), l)
	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("expected a decode error delivery")
	}

	v, err := p.Get()
	if err != nil || v == nil || *v != 10 {
		t.Fatalf("cached value must survive a decode error, got %v (err=%v)", v, err)
	}
}

func TestUnsubscribeStopsDeliveries(t *testing.T) {
	p, st, l := newAttached(t, Options[int]{})

	first := make(chan *int, 8)
	second := make(chan *int, 8)
	unsubFirst := p.Subscribe(func(v *int) { first <- v }, nil)
	p.Subscribe(func(v *int) { second <- v }, nil)
	<-first
	<-second

	unsubFirst()

	st.Put("n", strp("1"), l)
	select {
	case v := <-second:
		if v == nil || *v != 1 {
			t.Fatalf("expected 1 on surviving subscriber, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber never notified")
	}

	select {
	case <-first:
		t.Fatal("unsubscribed handler still notified")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSecretStringIsRedacted(t *testing.T) {
	p, st, l := newAttached(t, Options[int]{Secret: true})
	st.Put("n", strp("1234"), l)
	waitFor(t, func() bool {
		v, _ := p.Get()
		return v != nil
	})

	if got := p.String(); got != RedactionMarker {
		t.Fatalf("secret prop leaked its value: %q", got)
	}
}

func TestStringUsesEncoder(t *testing.T) {
	p, st, l := newAttached(t, Options[int]{})
	st.Put("n", strp("55"), l)
	waitFor(t, func() bool {
		v, _ := p.Get()
		return v != nil
	})

	if got := p.String(); got != "55" {
		t.Fatalf("expected encoded value 55, got %q", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := New("n", intDecode, intEncode, Options[int]{})
	for _, s := range []string{"0", "42", "-7", " 13 "} {
		v, err := p.DecodeRaw(&s)
		if err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		back := p.Encode(v)
		if back == nil || *back != strings.TrimSpace(s) {
			t.Fatalf("round trip of %q gave %v", s, back)
		}
	}
	if p.Encode(nil) != nil {
		t.Fatal("Encode(nil) must be nil")
	}
}

func TestExactlyOneNotificationPerDistinctTransition(t *testing.T) {
	p, st, l := newAttached(t, Options[int]{})

	var count int
	countCh := make(chan struct{}, 32)
	p.Subscribe(func(v *int) {
		if v != nil {
			countCh <- struct{}{}
		}
	}, nil)

	// same effective value written twice: the store must notify once
	st.Put("n", strp("5"), l)
	st.Put("n", strp("5"), l)

	deadline := time.After(300 * time.Millisecond)
drain:
	for {
		select {
		case <-countCh:
			count++
		case <-deadline:
			break drain
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 notification for 1 distinct transition, got %d", count)
	}
}
