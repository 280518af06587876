// Package envsource implements a source over OS process environment
// variables, optionally seeded from a .env file. Environment variables
// are static for the life of a process, so this source never calls
// downstream spontaneously: Refresh re-reads and republishes on demand.
package envsource

import (
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/nghyane/propflow/internal/logging"
	"github.com/nghyane/propflow/source"
)

// Source reads process environment variables, filtered to those with
// Prefix (if set) and with Prefix stripped from the published key.
type Source struct {
	id     string
	Prefix string

	mu   sync.RWMutex
	fn   source.Downstream
	last source.Snapshot
}

// New builds a Source identified by id. If Prefix is non-empty only
// variables starting with it are published, with the prefix removed from
// the key (e.g. prefix "APP_" turns APP_PORT into "PORT").
func New(id, prefix string) *Source {
	return &Source{id: id, Prefix: prefix}
}

// LoadDotenv merges the given .env files into the process environment
// without overwriting variables already set, matching godotenv's
// precedence (actual environment wins over .env file contents).
func LoadDotenv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil {
		return err
	}
	return nil
}

func (s *Source) ID() string { return s.id }

func (s *Source) Snapshot() source.Snapshot {
	out := make(source.Snapshot)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if s.Prefix != "" {
			if !strings.HasPrefix(k, s.Prefix) {
				continue
			}
			k = strings.TrimPrefix(k, s.Prefix)
		}
		out[k] = v
	}
	return out
}

func (s *Source) Register(fn source.Downstream) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

// Refresh re-reads the environment and republishes. It only invokes
// downstream if something actually changed, since layer.accept would
// otherwise recompute an identical diff on every call.
func (s *Source) Refresh() {
	snap := s.Snapshot()

	s.mu.Lock()
	if snapshotsEqual(s.last, snap) {
		s.mu.Unlock()
		return
	}
	s.last = snap
	fn := s.fn
	s.mu.Unlock()

	if fn == nil {
		logging.WithField("source", s.id).Debugf("envsource: refreshed with no downstream registered")
		return
	}
	fn(snap)
}

func snapshotsEqual(a, b source.Snapshot) bool {
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
