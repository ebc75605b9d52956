// Package vectorstore holds helpers shared by the similarity index backends.
package vectorstore

import (
	"errors"
	"fmt"
	"math"

	"pdfchat/internal/domain"
)

const DefaultTopK = 4

var (
	ErrLengthMismatch    = errors.New("chunks and vectors length mismatch")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmpty             = errors.New("no vectors to index")
)

// Validate checks that every chunk has a vector and that all vectors share
// one dimension, which it returns.
func Validate(chunks []domain.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}
	if len(vectors) == 0 {
		return 0, ErrEmpty
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return dim, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ClampTopK bounds k to [1, n], using DefaultTopK for non-positive values.
func ClampTopK(k, n int) int {
	if k <= 0 {
		k = DefaultTopK
	}
	return min(k, n)
}
