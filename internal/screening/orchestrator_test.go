package screening

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func mustName(t *testing.T, raw string) EntityName {
	t.Helper()
	name, err := NewEntityName(raw)
	require.NoError(t, err)
	return name
}

func hitsFor(source Source, names ...string) ScraperFunc {
	return func(_ context.Context, _ EntityName) ([]Hit, error) {
		hits := make([]Hit, 0, len(names))
		for _, n := range names {
			hits = append(hits, NewHit(n, source, map[string]string{"Name": n}, nil, time.Unix(0, 0)))
		}
		return hits, nil
	}
}

func failing(err error) ScraperFunc {
	return func(context.Context, EntityName) ([]Hit, error) {
		return nil, err
	}
}

func sleeping(d time.Duration, source Source) ScraperFunc {
	return func(ctx context.Context, _ EntityName) ([]Hit, error) {
		select {
		case <-time.After(d):
			return []Hit{NewHit("match", source, nil, nil, time.Now())}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestOrchestratorIsolatesFailures(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := NewOrchestrator(Registry{
		SourceOFAC:      hitsFor(SourceOFAC, "Nicolas MADURO MOROS", "Nicolas Ernesto MADURO GUERRA"),
		SourceWorldBank: failing(errors.New("timeout")),
	}, zap.NewNop(), WithClock(fixedClock{now: now}))

	res, err := o.Screen(context.Background(), mustName(t, "Maduro"), []Source{SourceOFAC, SourceWorldBank})
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalHits)
	require.Len(t, res.Hits, 2)
	require.Equal(t, []string{"WorldBank: timeout"}, res.Errors)
	require.True(t, res.HasErrors())
	require.True(t, res.HasHits())
	require.Equal(t, now, res.SearchedAt)
	require.Equal(t, "Maduro", res.SearchedEntity.String())
	require.Equal(t, "Nicolas MADURO MOROS", res.Hits[0].EntityName)
	require.Equal(t, "Nicolas Ernesto MADURO GUERRA", res.Hits[1].EntityName)
}

func TestOrchestratorRunsSourcesConcurrently(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(Registry{
		SourceOFAC:          sleeping(100*time.Millisecond, SourceOFAC),
		SourceWorldBank:     sleeping(200*time.Millisecond, SourceWorldBank),
		SourceOffshoreLeaks: sleeping(300*time.Millisecond, SourceOffshoreLeaks),
	}, zap.NewNop())

	start := time.Now()
	res, err := o.Screen(context.Background(), mustName(t, "Putin"), AllSources())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 3, res.TotalHits)
	require.Empty(t, res.Errors)
	// Total latency tracks the slowest source, not the 600ms sum.
	require.GreaterOrEqual(t, res.ExecutionTime, 300*time.Millisecond)
	require.Less(t, res.ExecutionTime, 500*time.Millisecond)
	require.Less(t, elapsed, 500*time.Millisecond)
}

func TestOrchestratorStampsSearchedAtAtStart(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(Registry{
		SourceOFAC: sleeping(150*time.Millisecond, SourceOFAC),
	}, zap.NewNop())

	callStart := time.Now().UTC()
	res, err := o.Screen(context.Background(), mustName(t, "Rosneft"), []Source{SourceOFAC})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.ExecutionTime, 150*time.Millisecond)
	require.Less(t, res.SearchedAt.Sub(callStart), 50*time.Millisecond)
	require.False(t, res.SearchedAt.Before(callStart))
}

func TestOrchestratorUnknownSource(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(Registry{
		SourceOffshoreLeaks: hitsFor(SourceOffshoreLeaks, "Appleby"),
	}, zap.NewNop())

	res, err := o.Screen(context.Background(), mustName(t, "Appleby"), []Source{SourceOFAC, SourceOffshoreLeaks})
	require.NoError(t, err)
	require.Equal(t, []string{"OFAC: source not available"}, res.Errors)
	require.Equal(t, 1, res.TotalHits)
	require.Equal(t, SourceOffshoreLeaks, res.Hits[0].Source)
}

func TestOrchestratorScrapingErrorMessage(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(Registry{
		SourceWorldBank: failing(NewScrapingError(SourceWorldBank, errors.New("HTTP 503"))),
	}, zap.NewNop())

	res, err := o.Screen(context.Background(), mustName(t, "Acme"), []Source{SourceWorldBank})
	require.NoError(t, err)
	require.Equal(t, []string{"WorldBank: HTTP 503"}, res.Errors)
	require.Empty(t, res.Hits)
	require.Zero(t, res.TotalHits)
}

func TestOrchestratorCancellation(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	blocking := ScraperFunc(func(ctx context.Context, _ EntityName) ([]Hit, error) {
		started.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := NewOrchestrator(Registry{SourceOFAC: blocking, SourceWorldBank: blocking}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.Screen(ctx, mustName(t, "Kim"), []Source{SourceOFAC, SourceWorldBank})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOrchestratorAlreadyCanceled(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	o := NewOrchestrator(Registry{
		SourceOFAC: ScraperFunc(func(context.Context, EntityName) ([]Hit, error) {
			calls.Add(1)
			return nil, nil
		}),
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Screen(ctx, mustName(t, "Kim"), []Source{SourceOFAC})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls.Load())
}

func TestOrchestratorRecoversPanics(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(Registry{
		SourceOFAC: ScraperFunc(func(context.Context, EntityName) ([]Hit, error) {
			panic("nil map")
		}),
		SourceOffshoreLeaks: hitsFor(SourceOffshoreLeaks, "Mossack Fonseca & Co."),
	}, zap.NewNop())

	res, err := o.Screen(context.Background(), mustName(t, "Mossack"), []Source{SourceOFAC, SourceOffshoreLeaks})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "OFAC: scraper panic")
	require.Equal(t, 1, res.TotalHits)
}

func TestOrchestratorAttributesHitsToRequestedSource(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(Registry{
		SourceOFAC: hitsFor(SourceWorldBank, "mislabeled"),
	}, zap.NewNop())

	res, err := o.Screen(context.Background(), mustName(t, "Assad"), []Source{SourceOFAC})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.Equal(t, SourceOFAC, res.Hits[0].Source)
}

func TestOrchestratorTotalHitsInvariant(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(Registry{
		SourceOFAC:          hitsFor(SourceOFAC, "a", "b", "c"),
		SourceWorldBank:     hitsFor(SourceWorldBank),
		SourceOffshoreLeaks: failing(errors.New("blocked")),
	}, zap.NewNop())

	for range 20 {
		res, err := o.Screen(context.Background(), mustName(t, "bank"), AllSources())
		require.NoError(t, err)
		require.Equal(t, len(res.Hits), res.TotalHits)
		require.Equal(t, []string{"a", "b", "c"}, []string{res.Hits[0].EntityName, res.Hits[1].EntityName, res.Hits[2].EntityName})
		require.Equal(t, []string{"OffshoreLeaks: blocked"}, res.Errors)
	}
}
