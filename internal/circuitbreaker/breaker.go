// Package circuitbreaker provides a per-endpoint circuit breaker with
// closed → open → half-open state transitions, protecting the SDK from
// hammering a failing backend.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zendfi",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by endpoint, from-state, and to-state.",
}, []string{"endpoint", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// entry tracks per-endpoint circuit state.
type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-endpoint circuit breaker. It trips open after
// threshold consecutive failures and allows one probe request after
// openDuration has elapsed.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openDuration before probing.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow reports whether a request to endpoint should proceed.
// An open circuit transitions to half-open once openDuration has elapsed.
func (b *Breaker) Allow(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[endpoint]
	if !ok {
		return true
	}

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(e.lastFailure) >= b.openDuration {
			b.transition(endpoint, e, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// Only the probe that caused the half-open transition runs;
		// concurrent requests wait for its verdict.
		return false
	}
	return true
}

// Success records a successful request, closing the circuit.
func (b *Breaker) Success(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[endpoint]
	if !ok {
		return
	}
	if e.state != StateClosed {
		b.transition(endpoint, e, StateClosed)
	}
	e.failures = 0
}

// Failure records a failed request, tripping the circuit when the
// consecutive-failure threshold is reached.
func (b *Breaker) Failure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[endpoint]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[endpoint] = e
	}

	e.failures++
	e.lastFailure = time.Now()

	if e.state == StateHalfOpen || e.failures >= b.threshold {
		if e.state != StateOpen {
			b.transition(endpoint, e, StateOpen)
		}
	}
}

// CurrentState returns the state of the circuit for endpoint.
func (b *Breaker) CurrentState(endpoint string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[endpoint]; ok {
		return e.state
	}
	return StateClosed
}

func (b *Breaker) transition(endpoint string, e *entry, to State) {
	stateTransitions.WithLabelValues(endpoint, e.state.String(), to.String()).Inc()
	e.state = to
}
