package indexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunker_EmptyContent(t *testing.T) {
	t.Parallel()

	c := NewChunker(128)
	require.Nil(t, c.Split(""))
	require.Nil(t, c.Split("   \n\t  "))
}

func TestChunker_ShortContentSingleChunk(t *testing.T) {
	t.Parallel()

	c := NewChunker(128)
	chunks := c.Split("a short document about nothing in particular")
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].Index)
	require.Equal(t, "a short document about nothing in particular", chunks[0].Text)
	require.LessOrEqual(t, chunks[0].Tokens, 128)
}

func TestChunker_BoundsEveryChunk(t *testing.T) {
	t.Parallel()

	c := NewChunker(16)
	text := strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet ", 40))
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		require.Equal(t, i, ch.Index)
		require.Greater(t, ch.Tokens, 0)
		require.LessOrEqual(t, ch.Tokens, 16)
		require.NotEmpty(t, ch.Text)
	}
}

func TestChunker_DefaultCap(t *testing.T) {
	t.Parallel()

	c := NewChunker(0)
	require.Equal(t, defaultChunkTokens, c.maxTokens)
}
