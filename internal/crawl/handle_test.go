package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingKeepsNewestFirst(t *testing.T) {
	t.Parallel()

	r := newRing(3)
	require.Empty(t, r.items())
	for _, u := range []string{"a", "b", "c", "d"} {
		r.add(RecentItem{URL: u})
	}
	got := r.items()
	require.Len(t, got, 3)
	require.Equal(t, []string{"d", "c", "b"}, []string{got[0].URL, got[1].URL, got[2].URL})
}

func TestRingDefaultCapacity(t *testing.T) {
	t.Parallel()

	r := newRing(0)
	for range 60 {
		r.add(RecentItem{})
	}
	require.Len(t, r.items(), 50)
}
