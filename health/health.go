// Package health implements the Health Monitor (§4.3): a per-credential
// sliding failure counter driving a three-state circuit (closed, half-open,
// open), grounded directly on internal/circuitbreaker — the closest 1:1
// match available for this behavior — but re-keyed per credential id
// instead of one breaker per struct field, and
// extended with the rule that client-caused errors never count as a
// failure.
package health

import (
	"sync"
	"time"
)

// State mirrors circuitbreaker.State naming.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// breaker is one credential's circuit state.
type breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	timeout          time.Duration
	openUntil        time.Time
	probeInFlight    bool
}

func newBreaker(failureThreshold int, timeout time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &breaker{state: StateClosed, failureThreshold: failureThreshold, timeout: timeout}
}

func (b *breaker) resolveState() State {
	if b.state == StateOpen && time.Now().After(b.openUntil) {
		b.state = StateHalfOpen
		b.probeInFlight = false
	}
	return b.state
}

// Monitor tracks per-credential health per §4.3.
type Monitor struct {
	failureThreshold int
	openTimeout      time.Duration

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewMonitor creates a Monitor. failureThreshold defaults to 5, openTimeout
// to 30s when zero/negative.
func NewMonitor(failureThreshold int, openTimeout time.Duration) *Monitor {
	return &Monitor{
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		breakers:         make(map[string]*breaker),
	}
}

func (m *Monitor) breakerFor(credentialID string) *breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[credentialID]
	if !ok {
		b = newBreaker(m.failureThreshold, m.openTimeout)
		m.breakers[credentialID] = b
	}
	return b
}

// IsOpen reports whether the credential's circuit is open, transitioning
// Open→HalfOpen first if the cooldown has elapsed. Consulted by the
// Candidate Resolver (§4.2 step 4).
func (m *Monitor) IsOpen(credentialID string) bool {
	b := m.breakerFor(credentialID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolveState() == StateOpen {
		return true
	}
	// HalfOpen admits exactly one probe; subsequent callers see it as open
	// until that probe resolves.
	if b.state == StateHalfOpen {
		if b.probeInFlight {
			return true
		}
		b.probeInFlight = true
	}
	return false
}

// RecordSuccess clears the consecutive-failure counter; if half-open,
// transitions to closed.
func (m *Monitor) RecordSuccess(credentialID string, latency time.Duration) {
	b := m.breakerFor(credentialID)
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.resolveState() {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.probeInFlight = false
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure increments the consecutive-failure counter and opens the
// circuit once it crosses failureThreshold. Client-caused error kinds
// (auth, invalid-request) must not be passed here — see
// errs.Kind.CountsAsHealthFailure in the orchestrator's call sites.
func (m *Monitor) RecordFailure(credentialID string) {
	b := m.breakerFor(credentialID)
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.resolveState() {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.openUntil = time.Now().Add(b.timeout)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openUntil = time.Now().Add(b.timeout)
		b.probeInFlight = false
	}
}

// State returns the current resolved state for a credential, for the
// CircuitBreakerState gauge.
func (m *Monitor) State(credentialID string) State {
	b := m.breakerFor(credentialID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveState()
}
