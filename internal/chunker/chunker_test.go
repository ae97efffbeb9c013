package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitSingleChunk(t *testing.T) {
	require.Equal(t, []string{"hello world"}, Split("hello world", 4000))
}

func TestSplitEmpty(t *testing.T) {
	require.Empty(t, Split("", 10))
	require.Empty(t, Split(" \n\t\n", 10))
}

func TestSplitGreedyLines(t *testing.T) {
	content := "aaaa\nbbbb\ncccc\ndddd"
	chunks := Split(content, 9)
	require.Equal(t, []string{"aaaa\nbbbb", "cccc\ndddd"}, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 9)
	}
}

func TestSplitNeverCutsLine(t *testing.T) {
	long := strings.Repeat("x", 20)
	chunks := Split("a\n"+long+"\nb", 5)
	require.Equal(t, []string{"a", long, "b"}, chunks)
}

func TestSplitPreservesAllLines(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, strings.Repeat("y", i%17+1))
	}
	content := strings.Join(lines, "\n")
	chunks := Split(content, 64)
	require.Equal(t, content, strings.Join(chunks, "\n"))
}

func TestSplitNormalizesCRLF(t *testing.T) {
	require.Equal(t, []string{"a\nb"}, Split("a\r\nb", 100))
}

func TestExtractTextPlain(t *testing.T) {
	require.Equal(t, "# not parsed", ExtractText("a.txt", "# not parsed"))
}

func TestExtractTextMarkdown(t *testing.T) {
	md := "# Refunds\n\nYou can get your **money** back within `30` days.\n\n- item one\n- item two\n\n```go\nfmt.Println(1)\n```\n"
	out := ExtractText("policy.md", md)
	require.Contains(t, out, "Refunds")
	require.Contains(t, out, "You can get your money back within 30 days.")
	require.Contains(t, out, "item one")
	require.Contains(t, out, "item two")
	require.Contains(t, out, "fmt.Println(1)")
	require.NotContains(t, out, "**")
	require.NotContains(t, out, "```")
}

func TestIsMarkdown(t *testing.T) {
	require.True(t, IsMarkdown("README.MD"))
	require.True(t, IsMarkdown("a.markdown"))
	require.False(t, IsMarkdown("a.txt"))
}
