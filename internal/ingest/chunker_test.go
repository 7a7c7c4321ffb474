package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextEmpty(t *testing.T) {
	assert.Nil(t, SplitText(""))
}

func TestSplitTextSingleChunk(t *testing.T) {
	chunks := SplitText("short body")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "short body", chunks[0].Text)
}

func TestSplitTextSizesAndOverlap(t *testing.T) {
	text := strings.Repeat("a", 8000)
	chunks := SplitText(text)
	require.True(t, len(chunks) >= 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), ChunkSize)
	}
	// Neighboring chunks share the overlap.
	first := []rune(chunks[0].Text)
	second := []rune(chunks[1].Text)
	assert.Equal(t, string(first[len(first)-ChunkOverlap:]), string(second[:ChunkOverlap]))
}

func TestSplitJoinRoundTrip(t *testing.T) {
	cases := []string{
		"tiny",
		strings.Repeat("abc ", 2000),
		strings.Repeat("héllo wörld ☃ ", 1000),
		strings.Repeat("x", ChunkSize),
		strings.Repeat("y", ChunkSize+1),
		strings.Repeat("z", 3*ChunkSize+17),
	}
	for _, text := range cases {
		chunks := SplitText(text)
		assert.Equal(t, text, JoinChunks(chunks), "round trip for len %d", len(text))
	}
}

func TestSplitTextRuneSafety(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 1200)
	chunks := SplitText(text)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text), "chunk %d splits a rune", i)
	}
	assert.Equal(t, text, JoinChunks(chunks))
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "msg-1#0", ChunkID("msg-1", 0))
	assert.Equal(t, "msg-1#7", ChunkID("msg-1", 7))
}
