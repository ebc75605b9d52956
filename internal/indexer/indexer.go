// Package indexer turns chunks into a searchable similarity index.
// Embedding runs with bounded parallelism; the backend is injected.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pdfchat/internal/domain"
	"pdfchat/internal/logging"
)

const DefaultConcurrency = 2

// ErrNoChunks means there was no text to index.
var ErrNoChunks = errors.New("no extractable text")

// Indexer embeds chunks and hands them to an index backend.
type Indexer struct {
	embedder    domain.Embedder
	builder     domain.IndexBuilder
	concurrency int
	logger      *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithConcurrency caps the number of in-flight embedding calls.
func WithConcurrency(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = logging.OrDiscard(l) }
}

// New creates an Indexer with its dependencies injected.
func New(e domain.Embedder, b domain.IndexBuilder, opts ...Option) *Indexer {
	ix := &Indexer{
		embedder:    e,
		builder:     b,
		concurrency: DefaultConcurrency,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Embedder returns the embedding model used for chunks; queries must use the same one.
func (ix *Indexer) Embedder() domain.Embedder { return ix.embedder }

// Backend names the index backend.
func (ix *Indexer) Backend() string { return ix.builder.Name() }

// Build embeds every chunk and builds a new index. Any failure aborts the
// whole build and nothing partial is returned.
func (ix *Indexer) Build(ctx context.Context, chunks []domain.Chunk) (domain.Index, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	started := time.Now()

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i := range chunks {
		g.Go(func() error {
			v, err := ix.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx, err := ix.builder.Build(ctx, chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("build %s index: %w", ix.builder.Name(), err)
	}
	if idx.Len() != len(chunks) {
		_ = idx.Close()
		return nil, fmt.Errorf("build %s index: stored %d of %d chunks", ix.builder.Name(), idx.Len(), len(chunks))
	}

	ix.logger.Info("index built",
		"backend", ix.builder.Name(),
		"embedder", ix.embedder.Name(),
		"chunks", len(chunks),
		"dims", len(vectors[0]),
		"took", time.Since(started))
	return idx, nil
}
