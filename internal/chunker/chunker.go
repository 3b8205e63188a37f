// Package chunker splits documents into overlapping fixed-size text windows
// suitable for embedding. Boundaries are pure length-based; retrieval
// precision comes from overlap and top-K breadth, not boundary placement.
package chunker

import "fmt"

const (
	// DefaultSize is the target chunk length in characters.
	DefaultSize = 1500

	// DefaultOverlap is how many characters consecutive chunks share, so a
	// concept spanning a boundary still appears intact in at least one chunk.
	DefaultOverlap = 200
)

// Chunk is a contiguous window of a document plus positional metadata.
type Chunk struct {
	Path    string // originating document path
	Index   int    // position within the document (0, 1, 2...)
	Content string
}

// Chunker produces deterministic fixed-size chunks.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Overlap must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, size), got %d for size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split windows text into chunks carrying the originating path. A document
// no longer than the chunk size yields exactly one chunk; empty text yields
// none. The union of chunks covers every character, and consecutive chunks
// share exactly the configured overlap. Windows are measured in runes, never
// raw bytes, so multibyte text is never cut mid-rune; every chunk is valid
// UTF-8.
func (c *Chunker) Split(path, text string) []Chunk {
	if len(text) == 0 {
		return nil
	}

	runes := []rune(text)
	step := c.size - c.overlap
	chunks := make([]Chunk, 0, 1+(len(runes)-1)/step)
	for start := 0; ; start += step {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, Chunk{Path: path, Index: len(chunks), Content: string(runes[start:])})
			return chunks
		}
		chunks = append(chunks, Chunk{Path: path, Index: len(chunks), Content: string(runes[start:end])})
	}
}
