// Package docstore implements a source backed by a Postgres table,
// change-streamed via LISTEN/NOTIFY: the initial snapshot is a query,
// every subsequent row insert/update/
// delete arrives as a notification payload the source merges in and
// republishes. The snapshot query connects through a retry/circuit-breaker
// executor; watch reconnection goes through a streaming circuit breaker
// with backoff, rate-limited so a flapping database can't trigger a
// reconnect storm.
package docstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/nghyane/propflow/internal/logging"
	"github.com/nghyane/propflow/internal/resilience"
	"github.com/nghyane/propflow/source"
)

// Config describes how to reach the table and how to follow it.
type Config struct {
	DSN   string
	Table string // table queried for the initial snapshot and named in log lines
	// Query returns every current (key, value) pair. Overridable for
	// tables that need a WHERE clause or column remapping.
	Query string
	// Channel is the Postgres NOTIFY channel carrying row changes as
	// JSON payloads shaped {"key":"...","value":"...","deleted":bool}.
	Channel string
	// CheckpointPath, if set, persists the last-applied notification's
	// PID and timestamp to a local sqlite file so a restart can log how
	// stale its first reconnect is. This is a resume diagnostic only:
	// the registry's own state is never persisted here or anywhere else.
	CheckpointPath string

	RetryConfig   resilience.RetryConfig
	BreakerConfig resilience.BreakerConfig
}

// DefaultQuery is used when Config.Query is empty.
func DefaultQuery(table string) string {
	return "SELECT key, value FROM " + table
}

// Source follows a Postgres table via an initial query plus LISTEN/NOTIFY.
type Source struct {
	id  string
	cfg Config

	mu     sync.RWMutex
	mirror source.Snapshot
	fn     source.Downstream

	executor *resilience.Executor[*pgx.Conn]
	breaker  *resilience.StreamingCircuitBreaker
	limiter  *rate.Limiter
	budget   *resilience.RetryBudget

	checkpoint *sql.DB

	watchMu   sync.Mutex
	cancel    context.CancelFunc
	scheduled bool
}

// New builds a Source identified by id. Call Watch to start following
// Config.Channel; until then the source behaves like a one-shot query
// source that only refreshes on explicit Refresh calls.
func New(id string, cfg Config) *Source {
	if cfg.Query == "" {
		cfg.Query = DefaultQuery(cfg.Table)
	}
	if cfg.RetryConfig == (resilience.RetryConfig{}) {
		cfg.RetryConfig = resilience.DefaultRetryConfig
	}
	if cfg.BreakerConfig.Name == "" {
		cfg.BreakerConfig = resilience.DefaultBreakerConfig("docstore:" + id)
	}

	s := &Source{
		id:       id,
		cfg:      cfg,
		mirror:   make(source.Snapshot),
		executor: resilience.NewExecutor[*pgx.Conn](cfg.RetryConfig, &cfg.BreakerConfig),
		breaker:  resilience.NewStreamingCircuitBreaker(cfg.BreakerConfig),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		budget:   resilience.NewRetryBudget(4),
	}

	if cfg.CheckpointPath != "" {
		if db, err := sql.Open("sqlite", cfg.CheckpointPath); err == nil {
			if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS docstore_checkpoint (
				channel TEXT PRIMARY KEY,
				state   TEXT NOT NULL
			)`); err == nil {
				s.checkpoint = db
			} else {
				logging.WithError(err).Warnf("docstore %s: failed to prepare checkpoint table", id)
				db.Close()
			}
		} else {
			logging.WithError(err).Warnf("docstore %s: failed to open checkpoint db", id)
		}
	}

	return s
}

func (s *Source) ID() string { return s.id }

func (s *Source) Snapshot() source.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror.Clone()
}

func (s *Source) Register(fn source.Downstream) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

// Scheduled reports whether Watch has been started.
func (s *Source) Scheduled() bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.scheduled
}

// Refresh runs Config.Query once, through the retry executor and its
// circuit breaker, and replaces the entire mirror with the result. The
// shared budget bounds how many connection attempts this source has in
// flight at once, counting watch-session dials.
func (s *Source) Refresh() {
	if !s.budget.TryAcquire() {
		logging.Warnf("docstore %s: refresh skipped, connection budget exhausted", s.id)
		return
	}
	defer s.budget.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := s.executor.Execute(ctx, func() (*pgx.Conn, error) {
		return pgx.Connect(ctx, s.cfg.DSN)
	})
	if err != nil {
		logging.WithError(err).Warnf("docstore %s: initial query connect failed", s.id)
		return
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, s.cfg.Query)
	if err != nil {
		logging.WithError(err).Warnf("docstore %s: query %q failed", s.id, s.cfg.Query)
		return
	}
	defer rows.Close()

	snap := make(source.Snapshot)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			logging.WithError(err).Warnf("docstore %s: row scan failed", s.id)
			continue
		}
		snap[key] = value
	}
	if err := rows.Err(); err != nil {
		logging.WithError(err).Warnf("docstore %s: row iteration failed", s.id)
		return
	}

	s.mu.Lock()
	s.mirror = snap
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		fn(snap.Clone())
	}
}

// Watch starts the LISTEN/NOTIFY follower goroutine. It runs until Close
// cancels its context.
func (s *Source) Watch() {
	s.watchMu.Lock()
	if s.scheduled {
		s.watchMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.scheduled = true
	s.watchMu.Unlock()

	go s.followLoop(ctx)
}

// Close stops the follower goroutine started by Watch.
func (s *Source) Close() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduled = false
	if s.checkpoint != nil {
		s.checkpoint.Close()
	}
}

func (s *Source) followLoop(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		// A budget rejection is a local condition, not a backend failure;
		// checking it first keeps it out of the breaker's counts.
		if !s.budget.TryAcquire() {
			if werr := resilience.WaitWithContext(ctx, time.Second); werr != nil {
				return
			}
			continue
		}

		done, err := s.breaker.Allow()
		if err != nil {
			s.budget.Release()
			delay := resilience.CalculateBackoff(attempt, s.cfg.RetryConfig.BaseDelay, s.cfg.RetryConfig.MaxDelay, 0)
			if werr := resilience.WaitWithContext(ctx, delay); werr != nil {
				return
			}
			continue
		}

		ok := s.runSession(ctx)
		s.budget.Release()
		done(ok)
		if ok {
			attempt = 0
		} else {
			attempt++
		}
	}
}

// runSession connects, issues LISTEN, and applies notifications until the
// connection drops or ctx is cancelled. Returns whether the session ran
// without an I/O error (used to drive the circuit breaker). Each session
// carries a fresh id so reconnect storms can be correlated in the logs.
func (s *Source) runSession(ctx context.Context) bool {
	session := uuid.NewString()
	slog := logging.WithFields(logging.Fields{"source": s.id, "session": session})

	conn, err := pgx.Connect(ctx, s.cfg.DSN)
	if err != nil {
		slog.WithError(err).Warn("docstore: watch connect failed")
		return false
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN \""+s.cfg.Channel+"\""); err != nil {
		slog.WithError(err).Warnf("docstore: LISTEN %s failed", s.cfg.Channel)
		return false
	}

	// A fresh watch session may have missed changes while disconnected;
	// re-querying once brings the mirror back to a known-good state
	// before trusting incremental notifications again.
	s.Refresh()

	for {
		notif, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			slog.WithError(err).Warn("docstore: notification wait failed")
			return false
		}
		s.applyNotification(notif.PID, notif.Payload)
	}
}

func (s *Source) applyNotification(pid uint32, payload string) {
	key := gjson.Get(payload, "key").String()
	if key == "" {
		logging.WithField("payload", payload).Warnf("docstore %s: notification missing key", s.id)
		return
	}
	deleted := gjson.Get(payload, "deleted").Bool()
	value := gjson.Get(payload, "value").String()

	s.mu.Lock()
	if deleted {
		delete(s.mirror, key)
	} else {
		s.mirror[key] = value
	}
	snap := s.mirror.Clone()
	fn := s.fn
	s.mu.Unlock()

	s.persistCheckpoint(pid)

	if fn != nil {
		fn(snap)
	}
}

// persistCheckpoint records the last-applied notification's PID and time
// for restart diagnostics. Failures here never affect live behavior.
func (s *Source) persistCheckpoint(pid uint32) {
	if s.checkpoint == nil {
		return
	}
	state, err := sjson.Set("{}", "last_pid", pid)
	if err == nil {
		state, err = sjson.Set(state, "observed_at", time.Now().UTC().Format(time.RFC3339))
	}
	if err != nil {
		return
	}
	if _, err := s.checkpoint.Exec(
		`INSERT INTO docstore_checkpoint (channel, state) VALUES (?, ?)
		 ON CONFLICT(channel) DO UPDATE SET state = excluded.state`,
		s.cfg.Channel, state,
	); err != nil {
		logging.WithError(err).Warnf("docstore %s: failed to persist checkpoint", s.id)
	}
}

// LastCheckpoint returns the raw JSON checkpoint state last persisted for
// Config.Channel, mainly for diagnostics and tests.
func (s *Source) LastCheckpoint() (string, error) {
	if s.checkpoint == nil {
		return "", nil
	}
	var state string
	err := s.checkpoint.QueryRow(
		`SELECT state FROM docstore_checkpoint WHERE channel = ?`, s.cfg.Channel,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return state, err
}
