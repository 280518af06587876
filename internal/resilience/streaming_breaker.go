package resilience

import (
	"github.com/sony/gobreaker"
)

// StreamingCircuitBreaker wraps gobreaker's TwoStepCircuitBreaker for
// long-lived watch connections (the docstore backend's LISTEN/NOTIFY
// session). Unlike CircuitBreaker's synchronous Execute, this is two-phase:
//   - Phase 1: Allow() checks if a (re)connect can proceed and returns a callback
//   - Phase 2: the callback runs when the connection eventually drops
type StreamingCircuitBreaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

// NewStreamingCircuitBreaker creates a breaker guarding a watch connection.
func NewStreamingCircuitBreaker(cfg BreakerConfig) *StreamingCircuitBreaker {
	return &StreamingCircuitBreaker{
		cb: gobreaker.NewTwoStepCircuitBreaker(cfg.settings()),
	}
}

// Allow checks if the circuit breaker permits a (re)connect attempt.
// Returns a done callback that MUST be called when the connection ends.
//   - Call done(true) if the watch connection ran and closed cleanly
//   - Call done(false) if it failed to establish or dropped with an error
//
// Returns gobreaker.ErrOpenState if circuit is open.
// Returns gobreaker.ErrTooManyRequests if in half-open state with max requests.
func (s *StreamingCircuitBreaker) Allow() (done func(success bool), err error) {
	return s.cb.Allow()
}
