// Package historytest holds behavior tests shared by every history.Store.
package historytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/history"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) history.Store

// Run exercises the history.Store contract against the factory's store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("BeginAndFinalizeRun", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

		run, err := store.BeginRun(ctx, history.Run{
			ID:        "run-1",
			StartURL:  "https://example.com",
			StartedAt: started,
			Config:    history.RunConfig{MaxDepth: 2, StayOnDomain: true, StorageType: "local"},
		})
		require.NoError(t, err)
		require.Equal(t, history.RunRunning, run.Status)
		require.Nil(t, run.EndedAt)

		ended := started.Add(time.Minute)
		counts := history.RunCounts{Pages: 1, Documents: 3, Errors: 1}
		require.NoError(t, store.FinalizeRun(ctx, "run-1", history.RunCompleted, counts, ended))

		got, err := store.GetRun(ctx, "run-1")
		require.NoError(t, err)
		require.Equal(t, history.RunCompleted, got.Status)
		require.Equal(t, counts, got.Counts)
		require.NotNil(t, got.EndedAt)
		require.True(t, got.EndedAt.Equal(ended))
		require.Equal(t, 2, got.Config.MaxDepth)
		require.True(t, got.Config.StayOnDomain)
		require.Equal(t, "local", got.Config.StorageType)

		err = store.FinalizeRun(ctx, "run-1", history.RunFailed, counts, ended)
		require.ErrorIs(t, err, history.ErrRunFinalized)
	})

	t.Run("FinalizeRejectsRunningStatus", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, err := store.BeginRun(ctx, history.Run{ID: "run-1", StartURL: "https://example.com"})
		require.NoError(t, err)
		err = store.FinalizeRun(ctx, "run-1", history.RunRunning, history.RunCounts{}, time.Now())
		require.ErrorIs(t, err, history.ErrInvalidStatus)
	})

	t.Run("FinalizeUnknownRun", func(t *testing.T) {
		store := newStore(t)
		err := store.FinalizeRun(context.Background(), "missing", history.RunFailed, history.RunCounts{}, time.Now())
		require.ErrorIs(t, err, history.ErrRunNotFound)
	})

	t.Run("GetUnknownRun", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetRun(context.Background(), "missing")
		require.ErrorIs(t, err, history.ErrRunNotFound)
	})

	t.Run("VersionsRequireRun", func(t *testing.T) {
		store := newStore(t)
		_, err := store.RecordVersion(context.Background(), history.ContentVersion{
			URL:         "https://example.com",
			ContentHash: "abc",
			RunID:       "missing",
		})
		require.ErrorIs(t, err, history.ErrRunNotFound)
	})

	t.Run("LatestVersionIsNewest", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		_, err := store.LatestVersion(ctx, "https://example.com/report")
		require.ErrorIs(t, err, history.ErrNotFound)

		beginRun(t, store, "run-1")
		for i := 0; i < 3; i++ {
			v, err := store.RecordVersion(ctx, history.ContentVersion{
				URL:            "https://example.com/report",
				ContentHash:    fmt.Sprintf("content-%d", i),
				StructuralHash: fmt.Sprintf("structure-%d", i),
				StorageType:    "local",
				StoragePath:    "pages/example.com_report.md",
				CreatedAt:      time.Date(2024, 5, 1, 10, i, 0, 0, time.UTC),
				RunID:          "run-1",
			})
			require.NoError(t, err)
			require.NotZero(t, v.ID)
			require.Equal(t, history.URLHash("https://example.com/report"), v.URLHash)
		}
		latest, err := store.LatestVersion(ctx, "https://example.com/report")
		require.NoError(t, err)
		require.Equal(t, "content-2", latest.ContentHash)
		require.Equal(t, "structure-2", latest.StructuralHash)
		require.Equal(t, "run-1", latest.RunID)

		versions, err := store.ListVersions(ctx, "https://example.com/report", 2)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		require.Equal(t, "content-2", versions[0].ContentHash)
		require.Equal(t, "content-1", versions[1].ContentHash)
	})

	t.Run("DocumentsUniquePerRunAndURL", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		beginRun(t, store, "run-1")
		beginRun(t, store, "run-2")

		doc := history.DocumentMetadata{
			URL:              "https://example.com/notes.csv",
			DocumentType:     "csv",
			OriginalFilename: "notes.csv",
			ContentHash:      "abc",
			ExtractionStatus: history.ExtractionSuccess,
			RunID:            "run-1",
		}
		saved, err := store.RecordDocument(ctx, doc)
		require.NoError(t, err)
		require.NotZero(t, saved.ID)
		require.False(t, saved.CreatedAt.IsZero())

		_, err = store.RecordDocument(ctx, doc)
		require.ErrorIs(t, err, history.ErrDuplicateDocument)

		doc.RunID = "run-2"
		_, err = store.RecordDocument(ctx, doc)
		require.NoError(t, err)

		docs, err := store.ListDocuments(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Equal(t, history.ExtractionSuccess, docs[0].ExtractionStatus)
		require.Equal(t, "notes.csv", docs[0].OriginalFilename)
	})

	t.Run("DocumentsRequireRun", func(t *testing.T) {
		store := newStore(t)
		_, err := store.RecordDocument(context.Background(), history.DocumentMetadata{
			URL:              "https://example.com/a.pdf",
			ExtractionStatus: history.ExtractionFailed,
			RunID:            "missing",
		})
		require.ErrorIs(t, err, history.ErrRunNotFound)

		_, err = store.ListDocuments(context.Background(), "missing")
		require.ErrorIs(t, err, history.ErrRunNotFound)
	})

	t.Run("ConcurrentDocumentsRecordedOnce", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		beginRun(t, store, "run-1")

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.RecordDocument(ctx, history.DocumentMetadata{
					URL:              "https://example.com/a.pdf",
					DocumentType:     "pdf",
					ExtractionStatus: history.ExtractionSuccess,
					RunID:            "run-1",
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, history.ErrDuplicateDocument)
		}
		require.Equal(t, 1, succeeded)
	})

	t.Run("ListRunsNewestFirst", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			_, err := store.BeginRun(ctx, history.Run{
				ID:        fmt.Sprintf("run-%d", i),
				StartURL:  "https://example.com",
				StartedAt: base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}
		runs, err := store.ListRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		require.Equal(t, "run-2", runs[0].ID)
		require.Equal(t, "run-1", runs[1].ID)
	})
}

func beginRun(t *testing.T, store history.Store, id string) {
	t.Helper()
	_, err := store.BeginRun(context.Background(), history.Run{ID: id, StartURL: "https://example.com"})
	require.NoError(t, err)
}
