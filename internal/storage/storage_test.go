package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakyBackend struct {
	failures int
	calls    int
}

func (f *flakyBackend) Type() string { return "flaky" }

func (f *flakyBackend) Put(_ context.Context, key string, _ []byte) (Ref, error) {
	f.calls++
	if f.calls <= f.failures {
		return Ref{}, errors.New("boom")
	}
	return Ref{Type: "flaky", Key: key, URI: "flaky://" + key}, nil
}

func TestPutWithRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt", failures: 0, wantCalls: 1},
		{name: "retry succeeds", failures: 1, wantCalls: 2},
		{name: "retry fails", failures: 2, wantCalls: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &flakyBackend{failures: tt.failures}
			ref, err := PutWithRetry(context.Background(), b, "documents/a.md", []byte("x"), time.Millisecond)
			require.Equal(t, tt.wantCalls, b.calls)
			if tt.wantErr {
				var upErr *UploadError
				require.ErrorAs(t, err, &upErr)
				require.Equal(t, "documents/a.md", upErr.Key)
				require.Equal(t, "flaky", upErr.Backend)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "documents/a.md", ref.Key)
		})
	}
}

func TestPutWithRetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &flakyBackend{failures: 5}
	_, err := PutWithRetry(ctx, b, "documents/a.md", nil, time.Hour)
	require.Error(t, err)
	require.Equal(t, 1, b.calls)
}

func TestValidateKey(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateKey("pages/example.com.md"))
	require.Error(t, ValidateKey(""))
	require.Error(t, ValidateKey("/etc/passwd"))
	require.Error(t, ValidateKey("pages/../../secret"))
}

func TestTargetValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Target{Type: TypeLocal, Path: "/tmp/out"}.Validate())
	require.NoError(t, Target{Type: TypeGCS, Bucket: "bucket"}.Validate())
	require.NoError(t, Target{Type: TypeMemory}.Validate())
	require.Error(t, Target{Type: TypeLocal}.Validate())
	require.Error(t, Target{Type: TypeGCS}.Validate())
	require.Error(t, Target{Type: "s3", Bucket: "b"}.Validate())
}

func TestContentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, MarkdownContentType, ContentType("pages/a.md"))
	require.Equal(t, "application/octet-stream", ContentType("files/a.pdf"))
}
