package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/risk-screener/internal/screening"
)

func report(id string) screening.Report {
	name, _ := screening.NewEntityName("Acme")
	return screening.Report{
		ID:      id,
		Sources: []screening.Source{screening.SourceOFAC},
		Result:  screening.Result{SearchedEntity: name, Hits: []screening.Hit{}},
	}
}

func TestResultStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store := NewResultStore(0)
	ctx := context.Background()

	require.NoError(t, store.SaveReport(ctx, report("a")))
	got, err := store.GetReport(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)

	_, err = store.GetReport(ctx, "missing")
	require.ErrorIs(t, err, screening.ErrReportNotFound)
}

func TestResultStoreRequiresID(t *testing.T) {
	t.Parallel()
	require.Error(t, NewResultStore(1).SaveReport(context.Background(), screening.Report{}))
}

func TestResultStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	store := NewResultStore(3)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, store.SaveReport(ctx, report(fmt.Sprintf("r-%d", i))))
	}

	for _, id := range []string{"r-0", "r-1"} {
		_, err := store.GetReport(ctx, id)
		require.ErrorIs(t, err, screening.ErrReportNotFound, id)
	}
	for _, id := range []string{"r-2", "r-3", "r-4"} {
		_, err := store.GetReport(ctx, id)
		require.NoError(t, err, id)
	}
}

func TestResultStoreOverwriteKeepsPosition(t *testing.T) {
	t.Parallel()
	store := NewResultStore(2)
	ctx := context.Background()
	require.NoError(t, store.SaveReport(ctx, report("a")))
	require.NoError(t, store.SaveReport(ctx, report("a")))
	require.NoError(t, store.SaveReport(ctx, report("b")))

	_, err := store.GetReport(ctx, "a")
	require.NoError(t, err)
}
