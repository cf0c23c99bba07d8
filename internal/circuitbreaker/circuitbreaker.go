package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Execute while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit is tripped, requests blocked
	StateHalfOpen              // Testing if service has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CircuitBreaker stops calling a failing upstream once a threshold of
// consecutive failures is reached, and lets a single probe through after the
// recovery timeout.
type CircuitBreaker struct {
	state     State         // Current state of the circuit breaker
	failures  int           // Count of consecutive failures
	threshold int           // Number of failures before opening circuit
	timeout   time.Duration // How long to wait before attempting recovery
	lastError error         // Most recent error that occurred
	mu        sync.Mutex
	openTime  time.Time // When the circuit was opened
	probing   bool      // A half-open probe is in flight
	onChange  func(from, to State)
	now       func() time.Time
	logger    *logrus.Entry
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithStateChange registers a callback invoked on every transition, outside
// the breaker lock.
func WithStateChange(fn func(from, to State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// NewCircuitBreaker creates a new circuit breaker with the specified failure threshold
// and recovery timeout duration.
//
// Parameters:
//   - threshold: Number of consecutive failures before opening the circuit
//   - timeout: Duration to wait before attempting recovery in half-open state
func NewCircuitBreaker(threshold int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	cb := &CircuitBreaker{
		state:     StateClosed,
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
		logger:    logrus.WithField("component", "circuitbreaker"),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn if the circuit breaker allows it and records the result.
// Errors for which countable returns false pass through without counting as
// failures; a nil countable counts every error.
func (cb *CircuitBreaker) Execute(fn func() error, countable func(error) bool) error {
	if !cb.AllowRequest() {
		return fmt.Errorf("%w: %v", ErrOpen, cb.LastError())
	}

	err := fn()
	if err != nil && countable != nil && !countable(err) {
		cb.RecordResult(nil)
		return err
	}
	cb.RecordResult(err)
	return err
}

// AllowRequest reports whether a request may go through. After the recovery
// timeout an open circuit moves to half-open and admits exactly one probe.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	var from, to State
	allowed := true
	changed := false

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openTime) < cb.timeout {
			allowed = false
			break
		}
		from, to, changed = cb.state, StateHalfOpen, true
		cb.state = StateHalfOpen
		cb.probing = true
		cb.logger.Warn("Circuit breaker transitioned to half-open")
	case StateHalfOpen:
		if cb.probing {
			allowed = false
		} else {
			cb.probing = true
		}
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
	return allowed
}

// RecordResult records the result of a request and updates the circuit breaker state.
// Failed requests increment the failure counter and may open the circuit;
// a failed half-open probe reopens it immediately.
// Successful requests reset the failure counter and close the circuit.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.mu.Lock()
	from := cb.state
	cb.probing = false

	if err != nil {
		cb.failures++
		cb.lastError = err
		if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
			cb.state = StateOpen
			cb.openTime = cb.now()
			if from != StateOpen {
				cb.logger.WithError(err).WithField("failures", cb.failures).Warn("Circuit breaker opened")
			}
		}
	} else {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.state = StateClosed
			cb.logger.Debug("Circuit breaker closed")
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

// State returns the current state without transitioning it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.lastError
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}
