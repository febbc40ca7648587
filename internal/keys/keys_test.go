package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "host and path", url: "https://example.com/report", want: "example.com_report"},
		{name: "trailing slash", url: "https://example.com/report/", want: "example.com_report"},
		{name: "host only", url: "https://example.com", want: "example.com"},
		{name: "host with root slash", url: "https://example.com/", want: "example.com"},
		{name: "nested path", url: "https://example.com/a/b/notes.csv", want: "example.com_a_b_notes.csv"},
		{name: "query and fragment ignored", url: "https://example.com/page?x=1#top", want: "example.com_page"},
		{name: "explicit port kept", url: "http://example.com:8080/x", want: "example.com_8080_x"},
		{name: "unsafe characters", url: "https://example.com/a b/ü~x", want: "example.com_a_b___x"},
		{name: "escaped path", url: "https://example.com/a%20b", want: "example.com_a_b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Derive(tt.url))
		})
	}
}

func TestDeriveDeterministicAndTotal(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://example.com/report",
		"file:///tmp/x",
		"https://example.com",
		"https://例え.jp/パス",
		"mailto:someone@example.com",
		"",
	}
	for _, u := range urls {
		first := Derive(u)
		require.NotEmpty(t, first, "key for %q", u)
		require.Equal(t, first, Derive(u), "key for %q must be stable", u)
		require.NotContains(t, first, "/")
	}
}

func TestArtifactKeys(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pages/example.com_report.md", Page("https://example.com/report"))
	require.Equal(t, "documents/example.com_files_q1.pdf.md", Document("https://example.com/files/q1.pdf"))
	require.Equal(t, "files/example.com_files_q1.pdf", File("https://example.com/files/q1.pdf"))
}

func TestFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "notes.csv", Filename("https://example.com/data/notes.csv?dl=1"))
	require.Equal(t, "my report.pdf", Filename("https://example.com/my%20report.pdf"))
	require.Equal(t, "", Filename("https://example.com"))
}

func TestDeriveSharesKeyAcrossQueries(t *testing.T) {
	t.Parallel()

	first := Derive("https://example.com/list?page=1")
	require.Equal(t, first, Derive("https://example.com/list?page=2"))
	require.Equal(t, Page("https://example.com/list?page=1"), Page("https://example.com/list?page=2"))
}
