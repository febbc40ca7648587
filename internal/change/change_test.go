package change

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/history/memory"
)

const page = `# Quarterly Report

Revenue grew in every region.

| Region | Q1 | Q2 |
|---|---|---|
| East | 1 | 2 |

- first
- second
`

func seedVersion(t *testing.T, store *memory.Store, url string, hashes Hashes) {
	t.Helper()
	ctx := context.Background()
	_, err := store.BeginRun(ctx, history.Run{ID: "run-0", StartURL: url})
	require.NoError(t, err)
	_, err = store.RecordVersion(ctx, history.ContentVersion{
		URL:            url,
		ContentHash:    hashes.Content,
		StructuralHash: hashes.Structural,
		RunID:          "run-0",
	})
	require.NoError(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	const url = "https://example.com/report"
	edited := `# Quarterly Report

Revenue grew in most regions, slightly.

| Region | Q1 | Q2 |
|---|---|---|
| East | 3 | 4 |

- first item
- second item
`
	restructured := page + "\n## Outlook\n\nMore text.\n"

	tests := []struct {
		name     string
		strategy Strategy
		force    bool
		seed     bool
		markdown string
		want     Classification
	}{
		{name: "no baseline is new", strategy: StrategyContentHash, markdown: page, want: New},
		{name: "force without baseline is new", strategy: StrategyContentHash, force: true, markdown: page, want: New},
		{name: "identical content unchanged", strategy: StrategyContentHash, seed: true, markdown: page, want: Unchanged},
		{name: "prose edit changes content hash", strategy: StrategyContentHash, seed: true, markdown: edited, want: Changed},
		{name: "prose edit keeps structure", strategy: StrategyStructural, seed: true, markdown: edited, want: Unchanged},
		{name: "new section changes structure", strategy: StrategyStructural, seed: true, markdown: restructured, want: Changed},
		{name: "force refresh overrides equality", strategy: StrategyContentHash, force: true, seed: true, markdown: page, want: Changed},
		{name: "force refresh structural", strategy: StrategyStructural, force: true, seed: true, markdown: page, want: Changed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := memory.NewStore()
			if tt.seed {
				seedVersion(t, store, url, Compute(page))
			}
			detector := NewDetector(store, tt.strategy, tt.force)
			got, err := detector.Classify(context.Background(), url, Compute(tt.markdown))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type failingBaseline struct{}

func (failingBaseline) LatestVersion(context.Context, string) (history.ContentVersion, error) {
	return history.ContentVersion{}, errors.New("db down")
}

func TestClassifyPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	_, err := NewDetector(failingBaseline{}, StrategyContentHash, false).
		Classify(context.Background(), "https://example.com", Compute(page))
	require.ErrorContains(t, err, "db down")
}

func TestPersist(t *testing.T) {
	t.Parallel()

	require.True(t, New.Persist())
	require.True(t, Changed.Persist())
	require.False(t, Unchanged.Persist())
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, StrategyContentHash, s)

	s, err = ParseStrategy(" Structural ")
	require.NoError(t, err)
	require.Equal(t, StrategyStructural, s)

	_, err = ParseStrategy("semantic")
	require.Error(t, err)
}

func TestHashesAreStable(t *testing.T) {
	t.Parallel()

	first := Compute(page)
	second := Compute(page)
	require.Equal(t, first, second)
	require.Len(t, first.Content, 64)
	require.Len(t, first.Structural, 64)
	require.NotEqual(t, first.Content, first.Structural)
}
