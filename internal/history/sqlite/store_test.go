package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/history/historytest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	historytest.Run(t, func(t *testing.T) history.Store {
		return newTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "history.db")
	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	_, err = first.BeginRun(context.Background(), history.Run{ID: "run-1", StartURL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	run, err := second.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, history.RunRunning, run.Status)
}
