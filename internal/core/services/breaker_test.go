package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock gives tests control over breaker cooldowns.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(settings BreakerSettings) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker(settings)
	b.now = clock.now
	return b, clock
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{})

	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 5})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, BreakerClosed, b.State(), "failure %d should not open", i+1)
	}
	b.RecordFailure()

	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpensAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, Cooldown: 30 * time.Second})

	b.RecordFailure()
	assert.False(t, b.Allow())

	clock.advance(29 * time.Second)
	assert.False(t, b.Allow())

	clock.advance(time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
}

func TestBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, Cooldown: time.Second, SuccessThreshold: 3})

	b.RecordFailure()
	clock.advance(time.Second)
	assert.True(t, b.Allow())

	b.RecordSuccess()
	b.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.RecordSuccess()

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, Cooldown: time.Second})

	b.RecordFailure()
	clock.advance(time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()

	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_CountsSkips(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 1, Cooldown: time.Minute})

	b.RecordFailure()
	b.Allow()
	b.Allow()
	b.Allow()

	assert.Equal(t, int64(3), b.Skips())
}
