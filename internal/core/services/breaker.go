package services

import (
	"sync"
	"time"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed passes all calls through. Consecutive failures move
	// the breaker to Open.
	BreakerClosed BreakerState = iota

	// BreakerOpen skips all calls until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen probes the consumer: consecutive successes close
	// the breaker, any failure reopens it.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a circuit breaker. Zero values fall back to the
// defaults.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default 30s.
	Cooldown time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the breaker. Default 3.
	SuccessThreshold int
}

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	DefaultSuccessThreshold = 3
)

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = DefaultCooldown
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = DefaultSuccessThreshold
	}
	return s
}

// CircuitBreaker guards one consumer. Closed passes calls through; after
// FailureThreshold consecutive failures it opens and skips calls for
// Cooldown; it then half-opens and closes again after SuccessThreshold
// consecutive successes. Any half-open failure reopens it immediately.
//
// Safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	state    BreakerState

	failures  int
	successes int
	openedAt  time.Time
	skips     int64

	// now is injectable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{
		settings: settings.withDefaults(),
		state:    BreakerClosed,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed, moving Open to HalfOpen once
// the cooldown has elapsed. A false return means the call must be
// skipped, not queued or retried.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.settings.Cooldown {
			b.state = BreakerHalfOpen
			b.successes = 0
			return true
		}
		b.skips++
		return false
	default:
		return false
	}
}

// RecordSuccess notes a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure notes a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.open()
		}
	case BreakerHalfOpen:
		b.open()
	}
}

// open transitions to Open. Caller holds the lock.
func (b *CircuitBreaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
}

// State returns the current state without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Skips returns how many calls were skipped while open.
func (b *CircuitBreaker) Skips() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skips
}
