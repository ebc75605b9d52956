// Package ollama embeds text with an Ollama embedding model.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "nomic-embed-text"
)

// ErrNoEmbedding is returned when Ollama answers without a vector.
var ErrNoEmbedding = errors.New("ollama returned no embeddings")

// Config holds settings for the embedding client.
type Config struct {
	Host       string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns sensible defaults for local Ollama.
func DefaultConfig() Config {
	return Config{Host: DefaultHost, Model: DefaultModel, Timeout: 60 * time.Second, MaxRetries: 3}
}

// Embedder wraps the Ollama API for embedding generation.
type Embedder struct {
	client     *api.Client
	model      string
	maxRetries int
}

// NewEmbedder creates an embedder connected to Ollama.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return &Embedder{
		client:     api.NewClient(u, &http.Client{Timeout: cfg.Timeout}),
		model:      cfg.Model,
		maxRetries: max(cfg.MaxRetries, 0),
	}, nil
}

// Name returns the embedding model identifier.
func (e *Embedder) Name() string { return e.model }

// Embed generates a single embedding vector. Overload and server errors
// are retried with exponential backoff.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	for attempt := 0; ; attempt++ {
		resp, err := e.client.Embed(ctx, &api.EmbedRequest{
			Model: e.model,
			Input: text,
		})
		if err != nil {
			if attempt < e.maxRetries && retryable(err) {
				if serr := sleep(ctx, retryDelay(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
			return nil, ErrNoEmbedding
		}
		return resp.Embeddings[0], nil
	}
}

func retryable(err error) bool {
	var se api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return false
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Available checks if Ollama is reachable.
func (e *Embedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := e.client.Version(ctx)
	return err == nil
}
