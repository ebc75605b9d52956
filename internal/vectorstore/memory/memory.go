package memory

import (
	"context"
	"slices"
	"sync"

	"pdfchat/internal/domain"
	"pdfchat/internal/vectorstore"
)

// Builder creates brute-force in-memory indexes.
type Builder struct{}

func NewBuilder() Builder { return Builder{} }

func (Builder) Name() string { return "memory" }

// Build copies chunks and vectors into a new immutable Index.
func (Builder) Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) (domain.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim, err := vectorstore.Validate(chunks, vectors)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		dimension: dim,
		chunks:    slices.Clone(chunks),
		vectors:   make([][]float32, len(vectors)),
	}
	for i, v := range vectors {
		idx.vectors[i] = slices.Clone(v)
	}
	return idx, nil
}

// Index is an in-memory vector index using brute-force cosine similarity.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	chunks    []domain.Chunk
}

// Search returns the topK most similar chunks, best first. Ties keep document order.
func (s *Index) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(vector) != s.dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}
	scores := make([]float64, len(s.vectors))
	for i := range s.vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scores[i] = vectorstore.Cosine(s.vectors[i], vector)
	}
	idxs := argsortDesc(scores)
	topK = vectorstore.ClampTopK(topK, len(idxs))
	results := make([]domain.SearchResult, 0, topK)
	for _, j := range idxs[:topK] {
		results = append(results, domain.SearchResult{Chunk: s.chunks[j], Score: scores[j]})
	}
	return results, nil
}

func (s *Index) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Close releases the stored vectors.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = nil
	s.chunks = nil
	return nil
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	slices.SortStableFunc(idxs, func(a, b int) int {
		switch {
		case vals[a] > vals[b]:
			return -1
		case vals[a] < vals[b]:
			return 1
		}
		return 0
	})
	return idxs
}
