package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/resilience"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker(2, 0.5, time.Minute).WithClock(clock.Now)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Counts{Failures: 1}, breaker.Counts())
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())
	require.Equal(t, resilience.Counts{}, breaker.Counts())

	clock.now = clock.now.Add(time.Minute)
	require.Equal(t, resilience.HalfOpen, breaker.State())
	require.True(t, breaker.Allow(ctx), "first probe after cool off")
	require.False(t, breaker.Allow(ctx), "only one probe while half-open")
	breaker.Report(ctx, true)
	require.True(t, breaker.Allow(ctx), "breaker should close after successful probe")
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker(1, 0.5, 10*time.Second).WithClock(clock.Now)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	clock.now = clock.now.Add(10 * time.Second)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))
}

func TestBreakerStaysClosedBelowRatio(t *testing.T) {
	breaker := resilience.NewBreaker(4, 0.5, time.Minute)
	ctx := context.Background()
	for _, ok := range []bool{true, true, false, true, true, false, true, true, true, true} {
		require.True(t, breaker.Allow(ctx))
		breaker.Report(ctx, ok)
	}
	require.Equal(t, resilience.Closed, breaker.State())
	require.LessOrEqual(t, breaker.Counts().Successes+breaker.Counts().Failures, 8)
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-(base*2/5))
	require.LessOrEqual(t, d, base*2+(base*2/5))
}
