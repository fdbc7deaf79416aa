package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"docrag/internal/domain"
)

// snapRatio is how far into a window the last whitespace must sit before the
// window end is moved back onto it.
const snapRatio = 0.8

// WindowChunker splits text into fixed-size character windows that overlap by
// a fixed number of characters. Offsets are rune offsets into the text.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the window geometry. A configuration that could
// not advance is rejected rather than corrected.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, domain.NewError(domain.ErrInvalidChunkConfig, fmt.Sprintf("chunk size must be positive, got %d", size), nil)
	}
	if overlap < 0 {
		return nil, domain.NewError(domain.ErrInvalidChunkConfig, fmt.Sprintf("chunk overlap must not be negative, got %d", overlap), nil)
	}
	if overlap >= size {
		return nil, domain.NewError(domain.ErrInvalidChunkConfig, fmt.Sprintf("chunk overlap %d must be smaller than size %d", overlap, size), nil)
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

func (c *WindowChunker) Size() int    { return c.size }
func (c *WindowChunker) Overlap() int { return c.overlap }

// Chunk splits text into segments. Empty input yields no segments.
func (c *WindowChunker) Chunk(text string) ([]domain.Segment, error) {
	runes := []rune(text)
	n := len(runes)

	var segments []domain.Segment
	start := 0
	for start < n {
		end := start + c.size
		if end > n {
			end = n
		}

		if end < n && !unicode.IsSpace(runes[end]) {
			if ws := lastSpace(runes[start:end]); ws >= 0 && float64(ws) >= float64(c.size)*snapRatio {
				end = start + ws
			}
		}

		trimmed := strings.TrimSpace(string(runes[start:end]))
		if trimmed != "" {
			segments = append(segments, domain.Segment{
				Index:     len(segments),
				Text:      trimmed,
				StartChar: start,
				EndChar:   end,
				Length:    len([]rune(trimmed)),
			})
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return segments, nil
}

func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return -1
}
