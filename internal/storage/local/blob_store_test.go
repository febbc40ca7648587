// Package local_test tests the local filesystem backend.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/storage"
	"github.com/JakeFAU/markdown-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(tempDir, 0o700))
	})
}

func TestPut(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	base := store.BaseDir()

	t.Run("WritesNestedKey", func(t *testing.T) {
		ref, err := store.Put(context.Background(), "pages/example.com_report.md", []byte("# Report\n"))
		require.NoError(t, err)
		assert.Equal(t, storage.TypeLocal, ref.Type)
		assert.Equal(t, "pages/example.com_report.md", ref.Key)
		assert.Equal(t, "file://"+filepath.Join(base, "pages", "example.com_report.md"), ref.URI)

		// #nosec G304 -- test reads from the controlled temp directory.
		data, err := os.ReadFile(filepath.Join(base, "pages", "example.com_report.md"))
		require.NoError(t, err)
		assert.Equal(t, "# Report\n", string(data))
	})

	t.Run("IdenticalContentIsNotRewritten", func(t *testing.T) {
		path := filepath.Join(base, "pages", "same.md")
		_, err := store.Put(context.Background(), "pages/same.md", []byte("same"))
		require.NoError(t, err)
		old := time.Now().Add(-time.Hour).Truncate(time.Second)
		require.NoError(t, os.Chtimes(path, old, old))

		_, err = store.Put(context.Background(), "pages/same.md", []byte("same"))
		require.NoError(t, err)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(old))
	})

	t.Run("OverwritesChangedContent", func(t *testing.T) {
		_, err := store.Put(context.Background(), "documents/a.md", []byte("v1"))
		require.NoError(t, err)
		_, err = store.Put(context.Background(), "documents/a.md", []byte("v2"))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		data, err := os.ReadFile(filepath.Join(base, "documents", "a.md"))
		require.NoError(t, err)
		assert.Equal(t, "v2", string(data))
	})

	t.Run("RejectsBadKeys", func(t *testing.T) {
		for _, key := range []string{"", "../escape.md", "/abs.md"} {
			_, err := store.Put(context.Background(), key, []byte("x"))
			var upErr *storage.UploadError
			require.ErrorAs(t, err, &upErr, key)
		}
	})

	t.Run("ConcurrentWritersLeaveNoTempFiles", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Put(context.Background(), "documents/shared.md", []byte{byte('a' + i)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
		entries, err := os.ReadDir(filepath.Join(base, "documents"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.Put(ctx, "pages/cancelled.md", []byte("x"))
		require.ErrorIs(t, err, context.Canceled)
		_, statErr := os.Stat(filepath.Join(base, "pages", "cancelled.md"))
		assert.True(t, os.IsNotExist(statErr))
	})
}
