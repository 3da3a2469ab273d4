package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunker_Validation(t *testing.T) {
	_, err := NewChunker(0, 0, 0)
	assert.Error(t, err)
	_, err = NewChunker(100, 100, 0)
	assert.Error(t, err)
	_, err = NewChunker(100, -1, 0)
	assert.Error(t, err)

	c, err := NewChunker(100, 10, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, c.minLength)
}

func TestChunk_Empty(t *testing.T) {
	chunks, err := Chunk("", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = Chunk(" \n\t ", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_ShortTextIsSingleChunk(t *testing.T) {
	body := strings.Repeat("Rest well. ", 54) + "Relax."
	require.Equal(t, 600, utf8.RuneCountInString(body))
	text := "  " + body + "\n"

	chunks, err := Chunk(text, DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(text), chunks[0])
}

func TestChunk_ShortTextBelowMinLengthIsKept(t *testing.T) {
	chunks, err := Chunk("Rest.", 100, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rest."}, chunks)
}

func TestChunk_WindowsAndOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10) // 100 runes
	c, err := NewChunker(40, 10, 1)
	require.NoError(t, err)

	spans := c.Spans(text)
	require.Len(t, spans, 3)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, 30, spans[1].Start)
	assert.Equal(t, 60, spans[2].Start)
	assert.Equal(t, text[60:100], spans[2].Text)
	for _, s := range spans {
		assert.LessOrEqual(t, utf8.RuneCountInString(s.Text), 40)
	}
}

func TestChunk_ShortTailIsAnchored(t *testing.T) {
	// windows start at 0, 30, 60; the window at 60 would hold 15 runes
	text := strings.Repeat("x", 70) + "ABCDE"
	c, err := NewChunker(40, 10, 20)
	require.NoError(t, err)

	chunks := c.Chunk(text)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 40, utf8.RuneCountInString(last))
	assert.True(t, strings.HasSuffix(last, "ABCDE"))
}

func TestChunk_EachWindowAddsNewText(t *testing.T) {
	for _, n := range []int{41, 69, 70, 71, 75, 100, 101} {
		text := strings.Repeat("y", n)
		c, err := NewChunker(40, 10, 20)
		require.NoError(t, err)

		spans := c.Spans(text)
		for i := 1; i < len(spans); i++ {
			prevEnd := spans[i-1].Start + utf8.RuneCountInString(spans[i-1].Text)
			end := spans[i].Start + utf8.RuneCountInString(spans[i].Text)
			assert.Greater(t, end, prevEnd, "n=%d", n)
		}
	}
}

func TestChunk_Unicode(t *testing.T) {
	text := strings.Repeat("сон и отдых ", 30)
	c, err := NewChunker(50, 5, 5)
	require.NoError(t, err)
	for _, ch := range c.Chunk(text) {
		assert.True(t, utf8.ValidString(ch))
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 50)
	}
}

func TestChunk_Properties(t *testing.T) {
	texts := []string{
		strings.Repeat("Sleep hygiene matters. ", 200),
		strings.Repeat("a", 1501),
		strings.Repeat("b", 1650),
		strings.Repeat("word ", 333) + "end",
		strings.Repeat("z", 3000),
	}
	configs := [][3]int{{1500, 150, 20}, {100, 0, 1}, {100, 99, 10}, {64, 16, 32}}

	for _, text := range texts {
		for _, cfg := range configs {
			c, err := NewChunker(cfg[0], cfg[1], cfg[2])
			require.NoError(t, err)

			spans := c.Spans(text)
			trimmed := []rune(strings.TrimSpace(text))

			// deterministic
			assert.Equal(t, spans, c.Spans(text))

			covered := make([]bool, len(trimmed))
			for _, s := range spans {
				n := utf8.RuneCountInString(s.Text)
				assert.LessOrEqual(t, n, cfg[0])
				assert.GreaterOrEqual(t, n, cfg[2])
				assert.Equal(t, s.Text, string(trimmed[s.Start:s.Start+n]))
				for i := s.Start; i < s.Start+n; i++ {
					covered[i] = true
				}
			}
			for i, ok := range covered {
				if !ok && trimmed[i] != ' ' {
					t.Fatalf("rune %d not covered (size=%d overlap=%d)", i, cfg[0], cfg[1])
				}
			}
			require.NotEmpty(t, spans)
			last := spans[len(spans)-1]
			assert.Equal(t, len(trimmed), last.Start+utf8.RuneCountInString(last.Text))
		}
	}
}
