package errors

import (
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitClosed is the normal state where requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen is when the circuit is tripped and requests are blocked.
	CircuitOpen
	// CircuitHalfOpen is when the circuit is testing if the service recovered.
	CircuitHalfOpen
)

// String returns a string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after consecutive failures against an upstream
// service so that remaining work fails fast instead of waiting out
// timeouts. Used by the VLM path, where one element's failure predicts
// the next element's.
type CircuitBreaker struct {
	service      string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker for the named upstream service.
// Default: 5 consecutive failures open the circuit for 30 seconds.
func NewCircuitBreaker(service string) *CircuitBreaker {
	return &CircuitBreaker{
		service:      service,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        CircuitClosed,
	}
}

// WithLimits overrides the failure threshold and reset timeout.
func (cb *CircuitBreaker) WithLimits(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	cb.maxFailures = maxFailures
	cb.resetTimeout = resetTimeout
	return cb
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState returns the state, checking for transition to half-open.
// Must be called with the lock held.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == CircuitOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether a request should be attempted. When the circuit
// is open, callers should fail with an unavailable error immediately.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState() != CircuitOpen
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failed request and opens the circuit at the
// threshold. Only transient failures should be recorded; a malformed
// response says nothing about service health.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
	}
}

// Do runs fn through the breaker. An open circuit returns an
// UpstreamUnavailable error without invoking fn. A half-open circuit
// admits one probe; its outcome decides the next state.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return Unavailable(cb.service, nil).
			WithDetail("circuit", "open").
			WithSuggestion("wait for the service to recover; the circuit re-probes automatically")
	}

	if err := fn(); err != nil {
		if IsRetryable(err) {
			cb.RecordFailure()
		}
		return err
	}
	cb.RecordSuccess()
	return nil
}
