package registry

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nghyane/propflow/backends/mem"
	"github.com/nghyane/propflow/ondemand"
	"github.com/nghyane/propflow/prop"
	"github.com/nghyane/propflow/scheduler"
)

func intDecode(raw *string) (*int, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := strconv.Atoi(*raw)
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

func stringListDecode(raw *string) (*[]string, error) {
	if raw == nil {
		return nil, nil
	}
	parts := strings.Split(*raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return &out, nil
}

func newTestRegistry(t *testing.T) (*Registry, *mem.Source, *mem.Source) {
	t.Helper()
	low := mem.New("defaults")
	high := mem.New("overrides")
	r := NewBuilder().
		WithScheduler(scheduler.New(2)).
		Add(low, "defaults", 0).
		Add(high, "overrides", 10).
		Build()
	return r, low, high
}

func TestBindDeliversCurrentValueSynchronously(t *testing.T) {
	r, low, _ := newTestRegistry(t)
	low.Set("port", "8080")

	p, err := Bind(r, prop.New("port", intDecode, intEncode, prop.Options[int]{}))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	v, err := p.Get()
	if err != nil || v == nil || *v != 8080 {
		t.Fatalf("expected 8080 immediately after Bind, got %v (err=%v)", v, err)
	}
}

func TestBindConflictRejectsSecondProp(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := Bind(r, prop.New("x", intDecode, intEncode, prop.Options[int]{})); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	_, err := Bind(r, prop.New("x", intDecode, intEncode, prop.Options[int]{}))
	if err == nil {
		t.Fatal("expected second Bind for the same key to fail")
	}
}

func TestHigherPriorityLayerWins(t *testing.T) {
	r, low, high := newTestRegistry(t)
	low.Set("timeout", "30")
	high.Set("timeout", "60")

	got := r.Get("timeout")
	if got == nil || *got != "60" {
		t.Fatalf("expected override layer to win, got %v", got)
	}
}

func TestDeletingOverrideFallsBackToLowerLayer(t *testing.T) {
	r, low, high := newTestRegistry(t)
	low.Set("timeout", "30")
	high.Set("timeout", "60")
	high.Delete("timeout")

	got := r.Get("timeout")
	if got == nil || *got != "30" {
		t.Fatalf("expected fallback to defaults layer after override deleted, got %v", got)
	}
}

func TestListDecodingTrimsWhitespace(t *testing.T) {
	r, low, _ := newTestRegistry(t)
	low.Set("hosts", "a.example.com,  b.example.com ,c.example.com")

	val, err := GetConverter[[]string](r, "hosts", stringListDecode)
	if err != nil {
		t.Fatalf("GetConverter: %v", err)
	}
	want := []string{"a.example.com", "b.example.com", "c.example.com"}
	if len(*val) != len(want) {
		t.Fatalf("length mismatch: got %v", *val)
	}
	for i, w := range want {
		if (*val)[i] != w {
			t.Fatalf("element %d: got %q want %q", i, (*val)[i], w)
		}
	}
}

func TestSubscribeObservesLaterOverride(t *testing.T) {
	r, low, high := newTestRegistry(t)
	low.Set("retries", "1")

	p, err := Bind(r, prop.New("retries", intDecode, intEncode, prop.Options[int]{}))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	seen := make(chan int, 4)
	unsub := p.Subscribe(func(v *int) {
		if v != nil {
			seen <- *v
		}
	}, nil)
	defer unsub()

	if v := <-seen; v != 1 {
		t.Fatalf("expected initial delivery 1, got %d", v)
	}

	high.Set("retries", "5")

	deadline := time.Now().Add(time.Second)
	for {
		select {
		case v := <-seen:
			if v == 5 {
				return
			}
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for override notification")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPropBuilderFluentConstruction(t *testing.T) {
	r, low, _ := newTestRegistry(t)
	low.Set("workers", "4")

	p, err := NewPropBuilder("workers", intDecode, intEncode).
		WithDescription("worker pool size").
		WithDefault(1).
		BindTo(r)
	if err != nil {
		t.Fatalf("BindTo: %v", err)
	}
	v, err := p.Get()
	if err != nil || v == nil || *v != 4 {
		t.Fatalf("expected 4, got %v (err=%v)", v, err)
	}
	if p.Description() != "worker pool size" {
		t.Fatalf("unexpected description: %q", p.Description())
	}
}

func TestRequiredPropWithNoValueFails(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	p, err := Bind(r, NewPropBuilder("missing", intDecode, intEncode).Required().Build())
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := p.Get(); err == nil {
		t.Fatal("expected required-missing error")
	}
}

func TestUnknownKeyTriggersOnDemandLoad(t *testing.T) {
	sched := scheduler.New(4)
	var calls atomic.Int64
	vault := ondemand.New("vault", func(_ context.Context, key string) (*string, error) {
		calls.Add(1)
		v := "loaded:" + key
		return &v, nil
	}, sched)

	r := NewBuilder().
		WithScheduler(sched).
		Add(vault, "vault", 5).
		Build()

	// first read misses and kicks off the lazy load
	if got := r.Get("db-password"); got != nil {
		t.Fatalf("expected miss before load completes, got %q", *got)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := r.Get("db-password"); got != nil && *got == "loaded:db-password" {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := r.Get("db-password"); got == nil || *got != "loaded:db-password" {
		t.Fatalf("expected on-demand value to appear, got %v", got)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single load, got %d", got)
	}
}

func TestScheduledSourceRecoveryRepublishesFreshSnapshot(t *testing.T) {
	// Models a change-stream source recovering from a dropped backing
	// collection: the watcher reinitializes with a full fresh read whose
	// diff withdraws stale keys and surfaces the new document.
	r, _, high := newTestRegistry(t)
	high.Set("k", "v1")
	if got := r.Get("k"); got == nil || *got != "v1" {
		t.Fatalf("expected v1 before recovery, got %v", got)
	}

	high.Delete("k")
	high.Set("k", "v2")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := r.Get("k"); got != nil && *got == "v2" {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected k=v2 after recovery, got %v", r.Get("k"))
}
