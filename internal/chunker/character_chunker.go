package chunker

import (
	"pdfchat/internal/domain"
)

const (
	DefaultSeparator = "\n"
	DefaultSize      = 1000
	DefaultOverlap   = 200
)

// CharacterChunker splits text into fixed-size, overlapping windows measured in
// characters. A window ends just after the last separator it contains when one is
// available, otherwise it is cut at the size limit.
type CharacterChunker struct {
	separator []rune
	size      int
	overlap   int
}

// NewCharacterChunker builds a chunker. Non-positive size falls back to
// DefaultSize; an overlap that would stall progress is clamped.
func NewCharacterChunker(separator string, size, overlap int) *CharacterChunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &CharacterChunker{
		separator: []rune(separator),
		size:      size,
		overlap:   overlap,
	}
}

// NewDefault returns the newline / 1000 / 200 chunker.
func NewDefault() *CharacterChunker {
	return NewCharacterChunker(DefaultSeparator, DefaultSize, DefaultOverlap)
}

// Overlap is the number of characters shared by adjacent chunks.
func (c *CharacterChunker) Overlap() int { return c.overlap }

// Size is the maximum chunk length in characters.
func (c *CharacterChunker) Size() int { return c.size }

// Split returns the chunks of text in order. Dropping the first Overlap()
// characters of every chunk but the first and concatenating yields text.
func (c *CharacterChunker) Split(text string) []domain.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	var chunks []domain.Chunk
	start := 0
	for {
		end := start + c.size
		if end >= n {
			end = n
		} else if cut := c.lastSeparatorEnd(runes, start+c.overlap+1, end); cut > 0 {
			end = cut
		}
		chunks = append(chunks, domain.Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks
}

// lastSeparatorEnd finds the largest position e in [minEnd, hi] such that the
// separator ends at e. It returns -1 when there is none.
func (c *CharacterChunker) lastSeparatorEnd(runes []rune, minEnd, hi int) int {
	sl := len(c.separator)
	if sl == 0 {
		return -1
	}
	for e := hi; e >= minEnd && e-sl >= 0; e-- {
		if matchAt(runes, e-sl, c.separator) {
			return e
		}
	}
	return -1
}

func matchAt(runes []rune, i int, sep []rune) bool {
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
