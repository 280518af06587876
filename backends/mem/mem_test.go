package mem

import (
	"testing"

	"github.com/nghyane/propflow/source"
)

func TestSourceSnapshotIsIndependentCopy(t *testing.T) {
	s := FromMap("m", map[string]string{"a": "1"})
	snap := s.Snapshot()
	snap["a"] = "mutated"

	fresh := s.Snapshot()
	if fresh["a"] != "1" {
		t.Fatalf("Snapshot leaked a shared map: got %q", fresh["a"])
	}
}

func TestSetDeleteRepublish(t *testing.T) {
	s := New("m")
	var last source.Snapshot
	s.Register(func(snap source.Snapshot) { last = snap })

	s.Set("a", "1")
	if last["a"] != "1" {
		t.Fatalf("expected a=1 after Set, got %+v", last)
	}

	s.Delete("a")
	if _, ok := last["a"]; ok {
		t.Fatalf("expected a removed after Delete, got %+v", last)
	}
}
