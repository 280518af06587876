// Package sysprops implements a source over repeated -D key=value command
// line flags, modeled after Java's -Dprop=value convention. Like
// envsource, this is a static, pull-only source: Refresh re-parses and
// republishes.
package sysprops

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"github.com/nghyane/propflow/source"
)

// property is a pflag.Value collecting repeated -D occurrences.
type property struct {
	values map[string]string
}

func (p *property) String() string { return "" }

func (p *property) Set(raw string) error {
	k, v, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("sysprops: -D value %q is not in key=value form", raw)
	}
	p.values[k] = v
	return nil
}

func (p *property) Type() string { return "sysprop" }

// Source parses -D flags out of a command-line argument slice.
type Source struct {
	id   string
	args []string

	mu   sync.RWMutex
	fn   source.Downstream
	last source.Snapshot
}

// New builds a Source identified by id that will parse args (typically
// os.Args[1:]) for -D flags on Refresh.
func New(id string, args []string) *Source {
	return &Source{id: id, args: args}
}

func (s *Source) ID() string { return s.id }

func (s *Source) Snapshot() source.Snapshot {
	fs := pflag.NewFlagSet(s.id, pflag.ContinueOnError)
	fs.SetOutput(discard{})
	prop := &property{values: make(map[string]string)}
	fs.VarP(prop, "D", "D", "define a system property as key=value")
	fs.ParseErrorsWhitelist.UnknownFlags = true
	_ = fs.Parse(s.args)

	out := make(source.Snapshot, len(prop.values))
	for k, v := range prop.values {
		out[k] = v
	}
	return out
}

func (s *Source) Register(fn source.Downstream) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

// Refresh re-parses s.args and republishes if anything changed.
func (s *Source) Refresh() {
	snap := s.Snapshot()

	s.mu.Lock()
	if equalSnapshot(s.last, snap) {
		s.mu.Unlock()
		return
	}
	s.last = snap
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

func equalSnapshot(a, b source.Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
