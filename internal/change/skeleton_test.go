package change

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSkeleton(t *testing.T) {
	t.Parallel()

	md := strings.Join([]string{
		"# Title  Here #",
		"",
		"Intro paragraph",
		"continues here.",
		"",
		"![chart](chart.png)",
		"",
		"| a | b | c |",
		"|---|---|---|",
		"| 1 | 2 | 3 |",
		"",
		"1. one",
		"2. two",
		"",
		"* x",
		"* y",
		"* z",
		"",
		"> quoted",
		"> more",
		"",
		"---",
		"",
		"```go",
		"# not a heading",
		"```",
		"### Sub",
	}, "\n")

	want := strings.Join([]string{
		"h1 title here",
		"p",
		"image",
		"table cols=3",
		"olist items=2",
		"list items=3",
		"quote",
		"rule",
		"code",
		"h3 sub",
	}, "\n")
	require.Equal(t, want, Skeleton(md))
}

func TestSkeletonIgnoresLineEndingsAndIndentation(t *testing.T) {
	t.Parallel()

	unix := "# Title\n\nSome text\n\n- a\n- b\n"
	windows := "# Title\r\n\r\n  Some text\r\n\r\n- a\r\n- b\r\n"
	require.Equal(t, Skeleton(unix), Skeleton(windows))
	require.Equal(t, StructuralHash(unix), StructuralHash(windows))
}

func TestSkeletonSensitiveToLayout(t *testing.T) {
	t.Parallel()

	base := "# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	wider := "# Title\n\n| a | b | c |\n|---|---|---|\n| 1 | 2 | 3 |\n"
	renamed := "# Summary\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	edited := "# Title\n\n| x | y |\n|---|---|\n| 9 | 8 |\n"

	require.NotEqual(t, StructuralHash(base), StructuralHash(wider))
	require.NotEqual(t, StructuralHash(base), StructuralHash(renamed))
	require.Equal(t, StructuralHash(base), StructuralHash(edited))
}

func TestSkeletonEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, Skeleton(""))
	require.Empty(t, Skeleton("\n\n  \n"))
}
