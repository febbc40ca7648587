package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

func TestBlobStorePutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	ref, err := store.Put(context.Background(), "pages/page.md", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://pages/page.md", ref.URI)
	require.Equal(t, storage.TypeMemory, ref.Type)

	payload[0] = 'C'
	stored, ok := store.Get("pages/page.md")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"pages/page.md"}, store.Keys())
	require.Equal(t, 1, store.Writes())
}

func TestBlobStoreRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().Put(context.Background(), "", []byte("x"))
	var upErr *storage.UploadError
	require.ErrorAs(t, err, &upErr)
}
