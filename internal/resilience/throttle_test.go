package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/risk-screener/internal/screening"
)

func TestThrottleSpacesCalls(t *testing.T) {
	t.Parallel()
	inner := &recordingScraper{}
	th := NewThrottle(screening.SourceOffshoreLeaks, ThrottleConfig{RPS: 10, Burst: 1}, inner)
	ctx := context.Background()

	_, err := th.Scrape(ctx, entity(t))
	require.NoError(t, err)

	start := time.Now()
	_, err = th.Scrape(ctx, entity(t))
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 2, inner.calls)
}

func TestThrottleDisabled(t *testing.T) {
	t.Parallel()
	inner := &recordingScraper{}
	th := NewThrottle(screening.SourceWorldBank, ThrottleConfig{}, inner)

	start := time.Now()
	for range 50 {
		_, err := th.Scrape(context.Background(), entity(t))
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottleRespectsContext(t *testing.T) {
	t.Parallel()
	inner := &recordingScraper{}
	th := NewThrottle(screening.SourceOFAC, ThrottleConfig{RPS: 0.1, Burst: 1}, inner)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := th.Scrape(ctx, entity(t))
	require.Error(t, err)
	require.Zero(t, inner.calls)
}
