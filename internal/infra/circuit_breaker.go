package infra

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Cooldown elapsed, probing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker gates a failing operation until a cooldown elapses.
// Each instance owns its counters; breakers are never shared implicitly.
// Thread-safe for concurrent use.
type CircuitBreaker struct {
	name string
	mu   sync.RWMutex

	state        State
	failureCount int
	openedAt     time.Time

	failureThreshold int
	cooldown         time.Duration
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: threshold,
		cooldown:         cfg.Cooldown,
	}
}

// CanRun reports whether a call may proceed at now. An open breaker whose
// cooldown has elapsed moves to half-open and permits the call.
// A refusal is back-pressure, not a fault.
func (cb *CircuitBreaker) CanRun(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true

	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			slog.Info("Circuit breaker transitioning to half-open",
				slog.String("name", cb.name))
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		slog.Info("Circuit breaker closed (recovered)",
			slog.String("name", cb.name))
	}
	cb.state = StateClosed
	cb.failureCount = 0
}

// RecordFailure counts a failure at now. In half-open the count keeps
// accumulating, so the breaker reopens once the threshold is met again.
// Every failure past the threshold restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	if cb.failureCount < cb.failureThreshold {
		return
	}
	if cb.state != StateOpen {
		slog.Warn("Circuit breaker open (failures reached threshold)",
			slog.String("name", cb.name),
			slog.Int("failures", cb.failureCount))
	}
	cb.state = StateOpen
	cb.openedAt = now
}

// GetState returns the current state (for monitoring).
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	FailureCount int    `json:"failureCount"`
}

// Snapshot returns the state and failure count.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerSnapshot{Name: cb.name, State: cb.state.String(), FailureCount: cb.failureCount}
}

// Reset forces the circuit breaker to closed state (for testing/admin).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.openedAt = time.Time{}
	slog.Info("Circuit breaker reset", slog.String("name", cb.name))
}
