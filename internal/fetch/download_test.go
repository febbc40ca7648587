package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPDownloader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notes.csv":
			if r.Header.Get("User-Agent") != "test-agent" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("a,b\n1,2\n"))
		case "/big.pdf":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	d := NewHTTPDownloader(server.Client(), DownloadConfig{UserAgent: "test-agent", MaxBytes: 32, RatePerSecond: 100})

	data, err := d.Download(context.Background(), server.URL+"/notes.csv")
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2\n", string(data))

	_, err = d.Download(context.Background(), server.URL+"/missing.pdf")
	require.ErrorContains(t, err, "404")

	_, err = d.Download(context.Background(), server.URL+"/big.pdf")
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestHTTPDownloaderCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewHTTPDownloader(nil, DownloadConfig{RatePerSecond: 1})
	_, err := d.Download(ctx, "http://127.0.0.1:1/x.pdf")
	require.Error(t, err)
}
