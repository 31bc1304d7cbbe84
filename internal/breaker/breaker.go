// Package breaker implements a circuit breaker around the external
// search/download client. The peer network fails in bursts (dead peers,
// rate limits); failing fast during an outage keeps the worker pool from
// burning its concurrency slots on doomed calls.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State of the circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Defaults
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// ErrOpen is returned without invoking the wrapped call while the
// circuit is open or a half-open probe is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// CircuitBreaker is safe for concurrent use by all workers sharing one
// external client.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time

	state         State
	failureCount  int
	openedAt      time.Time
	probeInFlight bool
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// New creates a closed breaker. Non-positive parameters fall back to the
// defaults.
func New(failureThreshold int, recoveryTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	cb := &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn through the breaker. While open it returns ErrOpen
// without calling fn until the recovery timeout elapses; then exactly
// one trial call is let through, its outcome deciding between reset and
// re-open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err == nil)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.recoveryTimeout {
			return ErrOpen
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		return nil
	case StateHalfOpen:
		if cb.probeInFlight {
			return ErrOpen
		}
		cb.probeInFlight = true
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
		if success {
			cb.state = StateClosed
			cb.failureCount = 0
		} else {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
		return
	}

	if success {
		cb.failureCount = 0
		return
	}
	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the consecutive failure count while closed.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
