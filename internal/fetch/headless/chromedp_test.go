package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := New(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, cap(r.slots))
	require.Equal(t, 45*time.Second, r.cfg.NavigationTimeout)
	require.Equal(t, 500*time.Millisecond, r.cfg.Settle)
	require.Contains(t, r.blocked, "*.png")

	withMedia, err := New(Config{LoadMedia: true})
	require.NoError(t, err)
	defer withMedia.Close()
	require.Nil(t, withMedia.slots)
	require.Empty(t, withMedia.blocked)
}

func TestSlotWaitHonorsContext(t *testing.T) {
	t.Parallel()

	r, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.takeSlot(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.takeSlot(ctx), context.DeadlineExceeded)

	r.giveSlot()
	require.NoError(t, r.takeSlot(context.Background()))
}

func TestCDPHeaders(t *testing.T) {
	t.Parallel()

	h := cdpHeaders(http.Header{"X-One": {"a"}, "X-Many": {"a", "b"}, "X-None": {}})
	require.Equal(t, "a", h["X-One"])
	require.Equal(t, []string{"a", "b"}, h["X-Many"])
	_, ok := h["X-None"]
	require.False(t, ok)
}

func TestDocumentResponse(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:   203,
			URL:      "https://example.com/rendered",
			MimeType: "text/html",
			Headers:  network.Headers{"X-Request-ID": "abc", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	resp := doc.snapshot("https://req", "")
	require.Equal(t, 203, resp.status)
	require.Equal(t, "abc", resp.headers.Get("X-Request-ID"))
	require.Equal(t, []string{"a=1", "b=2"}, resp.headers.Values("Set-Cookie"))
	require.Equal(t, "https://example.com/rendered", resp.url)
	require.True(t, resp.isHTML())

	doc = &documentResponse{}
	doc.observe(&network.EventResponseReceived{Type: network.ResourceTypeImage, Response: &network.Response{Status: 500}})
	resp = doc.snapshot("https://req", "https://final")
	require.Equal(t, http.StatusOK, resp.status)
	require.Equal(t, "https://final", resp.url)
	require.True(t, resp.isHTML())

	resp = (&documentResponse{}).snapshot("https://req", "")
	require.Equal(t, "https://req", resp.url)
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                         true,
		"text/html; charset=utf-8": true,
		"application/xhtml+xml":    true,
		"application/pdf":          false,
		"application/vnd.ms-excel": false,
		"not a / media type; =":    true,
	}
	for mt, want := range cases {
		d := documentResponse{mimeType: mt}
		require.Equal(t, want, d.isHTML(), mt)
	}
}
