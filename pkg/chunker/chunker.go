package chunker

import "strings"

// Chunker splits text into fixed-size overlapping windows. Sizes are
// counted in runes so multi-byte scripts do not split mid-character.
type Chunker struct {
	size    int
	overlap int
}

const (
	DefaultChunkSize = 512
	DefaultOverlap   = 64
)

// New creates a chunker. Out-of-range values fall back to defaults.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = size / 8
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the chunks of text in order. Whitespace-only input
// yields no chunks; each chunk is trimmed and non-empty.
func (c *Chunker) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= c.size {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		start = end - c.overlap
	}

	return chunks
}
