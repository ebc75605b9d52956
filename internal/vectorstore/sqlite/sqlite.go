// Package sqlite provides a similarity index backed by a private in-memory
// SQLite database. Nothing is written to disk.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"pdfchat/internal/domain"
	"pdfchat/internal/vectorstore"
)

const schema = `
CREATE TABLE chunks (
	chunk_index INTEGER PRIMARY KEY,
	content     TEXT NOT NULL,
	start_pos   INTEGER NOT NULL,
	end_pos     INTEGER NOT NULL,
	source_doc  TEXT,
	embedding   BLOB NOT NULL
);
`

// Builder opens a new in-memory database for every index it builds.
type Builder struct{}

func NewBuilder() Builder { return Builder{} }

func (Builder) Name() string { return "sqlite" }

// Build stores chunks and vectors in a fresh database.
func (Builder) Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) (domain.Index, error) {
	dim, err := vectorstore.Validate(chunks, vectors)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The in-memory database lives as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	idx := &Index{db: db, dimension: dim, size: len(chunks)}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := idx.store(ctx, chunks, vectors); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Index implements domain.Index over SQLite with brute-force scoring.
type Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	dimension int
	size      int
}

func (s *Index) store(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_index, content, start_pos, end_pos, source_doc, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		embeddingJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.Index, chunk.Text, chunk.Start, chunk.End, chunk.Source, embeddingJSON); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	return tx.Commit()
}

// Search scores every stored chunk against the query. Ties keep document order.
func (s *Index) Search(ctx context.Context, embedding []float32, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, sql.ErrConnDone
	}
	if len(embedding) != s.dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_index, content, start_pos, end_pos, source_doc, embedding
		FROM chunks ORDER BY chunk_index
	`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			chunk         domain.Chunk
			source        sql.NullString
			embeddingJSON []byte
		)
		if err := rows.Scan(&chunk.Index, &chunk.Text, &chunk.Start, &chunk.End, &source, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		chunk.Source = source.String
		var vec []float32
		if err := json.Unmarshal(embeddingJSON, &vec); err != nil {
			return nil, fmt.Errorf("decoding embedding: %w", err)
		}
		results = append(results, domain.SearchResult{Chunk: chunk, Score: vectorstore.Cosine(vec, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results[:vectorstore.ClampTopK(topK, len(results))], nil
}

func (s *Index) Len() int { return s.size }

// Close discards the database.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
