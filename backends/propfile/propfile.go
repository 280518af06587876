// Package propfile implements a source backed by a Java-style .properties
// file, watched for changes via fsnotify. Unlike envsource/sysprops this
// source is Scheduled: once Watch is called it republishes on its own
// whenever the file changes, without waiting for an explicit Refresh.
package propfile

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/nghyane/propflow/internal/logging"
	"github.com/nghyane/propflow/source"
)

// Source reads and watches a single .properties file.
type Source struct {
	id   string
	path string

	mu      sync.RWMutex
	fn      source.Downstream
	last    source.Snapshot
	watcher *fsnotify.Watcher
	watchOn atomic.Bool
}

// New builds a Source identified by id, reading from path. Call Watch to
// start following the file for changes.
func New(id, path string) *Source {
	return &Source{id: id, path: path}
}

func (s *Source) ID() string { return s.id }

// Scheduled reports whether this source is currently following its file
// via fsnotify.
func (s *Source) Scheduled() bool { return s.watchOn.Load() }

func (s *Source) Snapshot() source.Snapshot {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.WithError(err).Warnf("propfile: failed to open %s", s.path)
		}
		return source.Snapshot{}
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads Java-properties-format lines from r: key=value or key:value,
// '#'/'!' full-line comments, leading/trailing whitespace around key and
// value trimmed, and a trailing backslash continuing onto the next line.
func Parse(r io.Reader) source.Snapshot {
	out := make(source.Snapshot)
	scanner := bufio.NewScanner(bufio.NewReader(r))

	var pending string
	for scanner.Scan() {
		line := scanner.Text()
		if pending != "" {
			line = pending + strings.TrimLeft(line, " \t")
			pending = ""
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
			continue
		}

		if strings.HasSuffix(line, "\\") && !strings.HasSuffix(line, "\\\\") {
			pending = strings.TrimSuffix(line, "\\")
			continue
		}

		key, value, ok := splitKeyValue(trimmed)
		if !ok {
			continue
		}
		out[unescape(key)] = unescape(value)
	}
	return out
}

func splitKeyValue(line string) (key, value string, ok bool) {
	for i, r := range line {
		switch r {
		case '=', ':':
			return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
		case ' ', '\t':
			rest := strings.TrimLeft(line[i:], " \t")
			rest = strings.TrimPrefix(rest, "=")
			rest = strings.TrimPrefix(rest, ":")
			return strings.TrimSpace(line[:i]), strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}

// unescape resolves Java-properties escape sequences: \n, \t, \r, the
// escaped delimiters (\:, \=, \#, \!, \\), and \uXXXX unicode escapes. An
// unknown escape yields the character itself; a malformed \uXXXX is kept
// literally.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'u':
			if i+4 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteString(`\u`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func (s *Source) Register(fn source.Downstream) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

// Refresh re-reads the file and republishes if anything changed.
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

// Watch starts an fsnotify watch on the file's directory (watching the
// file itself misses atomic rename-based editors); every relevant event
// triggers a Refresh. Watch is idempotent and returns immediately; the
// watcher goroutine runs until Close is called.
func (s *Source) Watch() error {
	if s.watchOn.Swap(true) {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.watchOn.Store(false)
		return err
	}
	dir := parentDir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		s.watchOn.Store(false)
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == s.path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
					s.Refresh()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.WithError(err).Warnf("propfile: watch error for %s", s.path)
			}
		}
	}()

	return nil
}

// Close stops the fsnotify watch, if one is running.
func (s *Source) Close() error {
	if !s.watchOn.Swap(false) {
		return nil
	}
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

func parentDir(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return "."
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
