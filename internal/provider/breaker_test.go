package provider

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type breakerClock struct {
	mu  sync.Mutex
	now time.Time
}

func newBreakerClock() *breakerClock {
	return &breakerClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *breakerClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *breakerClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := newBreakerClock()
	b := NewBreaker("finnhub", BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second, HalfOpenProbes: 1}, clock.Now)

	require.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	clock := newBreakerClock()
	b := NewBreaker("finnhub", BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second, HalfOpenProbes: 1}, clock.Now)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Non-consecutive failures never trip the circuit.
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	clock := newBreakerClock()
	b := NewBreaker("finnhub", BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second, HalfOpenProbes: 1}, clock.Now)

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	clock.Advance(31 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// One probe admitted; a second is refused until the probe settles.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_ProbeOutcomes(t *testing.T) {
	clock := newBreakerClock()
	b := NewBreaker("finnhub", BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second, HalfOpenProbes: 1}, clock.Now)

	b.RecordFailure()
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())

	// A failed probe re-opens immediately.
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	clock.Advance(31 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerSet_PerProviderIsolation(t *testing.T) {
	clock := newBreakerClock()
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenProbes: 1}, clock.Now)

	set.For("finnhub").RecordFailure()

	assert.ErrorIs(t, set.For("finnhub").Allow(), ErrBreakerOpen)
	assert.NoError(t, set.For("openweathermap").Allow())

	states := set.States()
	assert.Equal(t, "open", states["finnhub"])
	assert.Equal(t, "closed", states["openweathermap"])
}
