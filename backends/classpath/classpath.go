// Package classpath implements a source over a JSON5/JWCC or YAML document
// bundled into the binary via embed.FS: config shipped alongside the
// binary rather than read from the filesystem at runtime. Nested objects
// flatten to dot-separated keys.
package classpath

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/nghyane/propflow/internal/jsonutil"
	"github.com/nghyane/propflow/internal/logging"
	"github.com/nghyane/propflow/source"
)

// Source reads a single JSON5/JWCC or YAML document (chosen by the .yaml or
// .yml extension) out of an embed.FS. Embedded
// resources never change at runtime, so this source never calls
// downstream spontaneously; Refresh simply re-parses and republishes.
type Source struct {
	id   string
	fs   embed.FS
	path string

	mu   sync.RWMutex
	fn   source.Downstream
	last source.Snapshot
}

// New builds a Source identified by id, reading path out of fsys.
func New(id string, fsys embed.FS, path string) *Source {
	return &Source{id: id, fs: fsys, path: path}
}

func (s *Source) ID() string { return s.id }

func (s *Source) Snapshot() source.Snapshot {
	raw, err := s.fs.ReadFile(s.path)
	if err != nil {
		logging.WithError(err).Warnf("classpath: failed to read embedded %s", s.path)
		return source.Snapshot{}
	}

	var doc map[string]any
	if strings.HasSuffix(s.path, ".yaml") || strings.HasSuffix(s.path, ".yml") {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			logging.WithError(err).Warnf("classpath: %s is not valid YAML", s.path)
			return source.Snapshot{}
		}
	} else {
		standardized, err := hujson.Standardize(raw)
		if err != nil {
			logging.WithError(err).Warnf("classpath: %s is not valid JSON5/JWCC", s.path)
			return source.Snapshot{}
		}
		if err := jsonutil.Unmarshal(standardized, &doc); err != nil {
			logging.WithError(err).Warnf("classpath: failed to decode %s", s.path)
			return source.Snapshot{}
		}
	}

	out := make(source.Snapshot)
	flatten("", doc, out)
	return out
}

// flatten walks a decoded JSON document, joining nested object keys with
// '.' and stringifying scalars. Arrays become comma-joined strings, which
// list-typed props can split back apart.
func flatten(prefix string, v any, out source.Snapshot) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(joinKey(prefix, k), val[k], out)
		}
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = scalarString(item)
		}
		out[prefix] = joinComma(parts)
	case nil:
		// absent value; do not publish a key with no content
	default:
		out[prefix] = scalarString(val)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func (s *Source) Register(fn source.Downstream) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

// Refresh re-parses the embedded document and republishes if changed.
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
