package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(3, 5*time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.record(outcomeFailure)
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Allow())
	b.record(outcomeFailure)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	assert.Equal(t, int64(1), b.Stats().Trips)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(2, time.Second)
	b.record(outcomeFailure)
	b.record(outcomeSuccess)
	b.record(outcomeFailure)
	assert.Equal(t, BreakerClosed, b.State())
	b.record(outcomeNeutral)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, 5*time.Second)
	b.now = func() time.Time { return now }

	b.record(outcomeFailure)
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(5 * time.Second)
	require.NoError(t, b.Allow(), "cooldown elapsed: one probe")
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "second probe refused")

	b.record(outcomeFailure)
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, int64(2), b.Stats().Trips)

	now = now.Add(5 * time.Second)
	require.NoError(t, b.Allow())
	b.record(outcomeSuccess)
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerNeutralProbeReleases(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }
	b.record(outcomeFailure)

	now = now.Add(time.Second)
	require.NoError(t, b.Allow())
	b.record(outcomeNeutral)
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.NoError(t, b.Allow(), "cancelled probe frees the slot")
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(1, time.Hour)
	b.record(outcomeFailure)
	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, int64(2), l.Allowed())
	assert.Equal(t, int64(1), l.Rejected())

	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow())
	}
}
