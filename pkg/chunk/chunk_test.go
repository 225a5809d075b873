package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractSingleLine(t *testing.T) {
	src := []byte("Hello [|name|]!")
	c := Extract(src, 6, 40)
	require.Equal(t, 1, c.Line)
	require.Equal(t, 7, c.Column)
	require.Equal(t, "Hello [|name|]!", c.Snippet)
	require.Equal(t, 6, c.Index)
	require.Equal(t, byte('['), c.Snippet[c.Index])
}

func TestExtractTracksLineAndColumnAcrossNewlines(t *testing.T) {
	src := []byte("line one\nline two\nbad [| here")
	idx := strings.Index(string(src), "here")
	c := Extract(src, idx, 80)
	require.Equal(t, 3, c.Line)
	require.Equal(t, "bad [| here", c.Snippet)
}

func TestExtractWindowsAroundLongLines(t *testing.T) {
	src := []byte(strings.Repeat("a", 100) + "X" + strings.Repeat("b", 100))
	idx := 100
	c := Extract(src, idx, 20)
	require.LessOrEqual(t, len(c.Snippet), 22)
	require.Equal(t, byte('X'), c.Snippet[c.Index])
}

func TestExtractEmptySource(t *testing.T) {
	c := Extract(nil, 0, 40)
	require.Equal(t, "", c.Snippet)
	require.Equal(t, 1, c.Line)
	require.Equal(t, 1, c.Column)
}

func TestExtractHandlesCRLF(t *testing.T) {
	src := []byte("a\r\nb\r\nc")
	c := Extract(src, 6, 40)
	require.Equal(t, 3, c.Line)
	require.Equal(t, "c", c.Snippet)
}
