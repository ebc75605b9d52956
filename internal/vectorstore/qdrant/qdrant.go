package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/domain"
	"pdfchat/internal/vectorstore"
)

const (
	DefaultPrefix = "pdfchat"
	upsertBatch   = 256
)

type Config struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	Timeout          time.Duration
}

// Builder creates one throwaway Qdrant collection per index.
// It assumes cosine distance.
type Builder struct {
	url    string
	apiKey string
	prefix string
	client *http.Client
}

func NewBuilder(cfg Config) *Builder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Builder{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		prefix: prefix,
		client: &http.Client{Timeout: timeout},
	}
}

func (b *Builder) Name() string { return "qdrant" }

// Build creates a fresh collection and uploads every chunk into it.
// On failure the collection is dropped again.
func (b *Builder) Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) (domain.Index, error) {
	dim, err := vectorstore.Validate(chunks, vectors)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		builder:    b,
		collection: fmt.Sprintf("%s-%s", b.prefix, uuid.NewString()),
		dimension:  dim,
		size:       len(chunks),
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := b.do(ctx, http.MethodPut, idx.collectionURL(), body, nil); err != nil {
		return nil, err
	}
	if err := idx.upsert(ctx, chunks, vectors); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// Index is a read-only view over one Qdrant collection.
type Index struct {
	builder    *Builder
	collection string
	dimension  int
	size       int
}

func (s *Index) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.builder.url, s.collection)
}

// Collection returns the name of the backing collection.
func (s *Index) Collection() string { return s.collection }

func (s *Index) upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		points := make([]map[string]any, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, map[string]any{
				"id":     uuid.NewString(),
				"vector": vectors[i],
				"payload": map[string]any{
					"index":  chunks[i].Index,
					"text":   chunks[i].Text,
					"start":  chunks[i].Start,
					"end":    chunks[i].End,
					"source": chunks[i].Source,
				},
			})
		}
		body := map[string]any{"points": points}
		if err := s.builder.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        vectorstore.ClampTopK(topK, s.size),
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				Index  int    `json:"index"`
				Text   string `json:"text"`
				Start  int    `json:"start"`
				End    int    `json:"end"`
				Source string `json:"source"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := s.builder.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := r.Payload
		chunk := domain.Chunk{Index: p.Index, Text: p.Text, Start: p.Start, End: p.End, Source: p.Source}
		results = append(results, domain.SearchResult{Chunk: chunk, Score: r.Score})
	}
	return results, nil
}

func (s *Index) Len() int { return s.size }

// Close drops the collection.
func (s *Index) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.builder.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
}

func (b *Builder) do(ctx context.Context, method, url string, body any, out any) error {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant encode: %w", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("api-key", b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
