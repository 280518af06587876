// Package resilience adapts the retry/circuit-breaker primitives used by
// the docstore backend: its snapshot query connects through the Executor,
// and its LISTEN/NOTIFY watch sessions reconnect through the
// StreamingCircuitBreaker with the backoff helpers and RetryBudget.
package resilience

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sony/gobreaker"
)

// RetryConfig governs how an Executor retries a failing operation.
type RetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterDelay time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:  5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	JitterDelay: 250 * time.Millisecond,
}

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
	OnStateChange    func(name string, from, to gobreaker.State)
	IsSuccessful     func(err error) bool
}

// DefaultIsSuccessful lets a concrete backend override which errors count
// as breaker failures (a docstore backend might treat context.Canceled as
// success-adjacent, for instance). Nil errors are always successful.
var DefaultIsSuccessful func(err error) bool

func DefaultBreakerConfig(name string) BreakerConfig {
	isSuccessful := DefaultIsSuccessful
	if isSuccessful == nil {
		isSuccessful = func(err error) bool { return err == nil }
	}
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
		IsSuccessful:     isSuccessful,
	}
}

// settings lowers a BreakerConfig into the gobreaker form shared by the
// synchronous CircuitBreaker and the two-step StreamingCircuitBreaker.
func (cfg BreakerConfig) settings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
		IsSuccessful:  cfg.IsSuccessful,
	}
}

// CircuitBreaker guards a synchronous operation such as the docstore's
// snapshot query: once the backend has failed enough connects in a row,
// Execute fails fast with gobreaker.ErrOpenState instead of dialing again.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(cfg.settings())}
}

func (c *CircuitBreaker) Execute(fn func() (any, error)) (any, error) { return c.cb.Execute(fn) }

func NewRetryPolicy[R any](cfg RetryConfig) retrypolicy.RetryPolicy[R] {
	builder := retrypolicy.NewBuilder[R]().
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay)
	if cfg.JitterDelay > 0 {
		builder = builder.WithJitter(cfg.JitterDelay)
	}
	return builder.Build()
}

// Executor wraps a retry policy and an optional circuit breaker around a
// fallible operation. The docstore source uses it to connect for its
// snapshot query without hammering a backend that is down.
type Executor[R any] struct {
	executor failsafe.Executor[R]
	breaker  *CircuitBreaker
}

func NewExecutor[R any](retryConfig RetryConfig, breakerConfig *BreakerConfig) *Executor[R] {
	rp := NewRetryPolicy[R](retryConfig)

	var breaker *CircuitBreaker
	if breakerConfig != nil {
		breaker = NewCircuitBreaker(*breakerConfig)
	}

	return &Executor[R]{
		executor: failsafe.With(rp),
		breaker:  breaker,
	}
}

func (e *Executor[R]) Execute(ctx context.Context, fn func() (R, error)) (R, error) {
	if e.breaker != nil {
		result, err := e.breaker.Execute(func() (any, error) {
			return e.executor.WithContext(ctx).Get(fn)
		})
		if err != nil {
			var zero R
			return zero, err
		}
		return result.(R), nil
	}
	return e.executor.WithContext(ctx).Get(fn)
}

// CalculateBackoff computes exponential backoff with full jitter: a random
// value between 0 and min(maxDelay, baseDelay*2^attempt).
func CalculateBackoff(attempt int, baseDelay, maxDelay, _ time.Duration) time.Duration {
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// CalculateBackoffNoJitter computes exponential backoff without jitter, for
// deterministic tests.
func CalculateBackoffNoJitter(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryBudget is a token bucket bounding the connection attempts a single
// source has in flight at once, across its watch-session loop and any
// registry-triggered refreshes, so one flapping backend can't spawn
// unbounded concurrent dials.
type RetryBudget struct {
	capacity    atomic.Int64
	maxCapacity int64
}

func NewRetryBudget(maxCapacity int64) *RetryBudget {
	if maxCapacity <= 0 {
		maxCapacity = 50
	}
	rb := &RetryBudget{maxCapacity: maxCapacity}
	rb.capacity.Store(maxCapacity)
	return rb
}

func (rb *RetryBudget) TryAcquire() bool {
	for {
		current := rb.capacity.Load()
		if current <= 0 {
			return false
		}
		if rb.capacity.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

func (rb *RetryBudget) Release() {
	for {
		current := rb.capacity.Load()
		if current >= rb.maxCapacity {
			return
		}
		if rb.capacity.CompareAndSwap(current, current+1) {
			return
		}
	}
}

func (rb *RetryBudget) Available() int64   { return rb.capacity.Load() }
func (rb *RetryBudget) MaxCapacity() int64 { return rb.maxCapacity }
