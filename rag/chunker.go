package rag

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 150
	DefaultMinLength    = 20
)

// Span is one chunk together with the rune offset of its first character in
// the text passed to the chunker.
type Span struct {
	Start int
	Text  string
}

// Chunker splits text into overlapping windows measured in characters (runes).
type Chunker struct {
	size      int
	overlap   int
	minLength int
}

func NewChunker(size, overlap, minLength int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if minLength < 0 {
		minLength = 0
	}
	if minLength > size {
		minLength = size
	}
	return &Chunker{size: size, overlap: overlap, minLength: minLength}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text with the default minimum length.
func Chunk(text string, size, overlap int) ([]string, error) {
	c, err := NewChunker(size, overlap, DefaultMinLength)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text), nil
}

func (c *Chunker) Chunk(text string) []string {
	spans := c.Spans(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

// Spans returns the chunks of text in document order. Every chunk is trimmed
// and at most size runes long. The loop stops at the first window that
// reaches the end of the text, so the final window always adds runes the
// previous one did not cover. A final window shorter than minLength is
// anchored to the last size runes instead of being dropped.
func (c *Chunker) Spans(text string) []Span {
	all := []rune(text)
	lead := len(all) - len([]rune(strings.TrimLeftFunc(text, unicode.IsSpace)))
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= c.size {
		return []Span{{Start: lead, Text: string(runes)}}
	}

	step := c.size - c.overlap
	var spans []Span
	for start := 0; ; start += step {
		end := min(start+c.size, n)
		if end == n && start > 0 && trimmedLen(runes[start:end]) < c.minLength {
			start = n - c.size
		}
		window := runes[start:end]

		if trimmedLen(window) >= c.minLength && trimmedLen(window) > 0 {
			spans = append(spans, Span{
				Start: lead + start + leadingSpace(window),
				Text:  strings.TrimSpace(string(window)),
			})
		}
		if end == n {
			break
		}
	}
	return spans
}

func trimmedLen(r []rune) int {
	return len([]rune(strings.TrimSpace(string(r))))
}

func leadingSpace(r []rune) int {
	i := 0
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return i
}
