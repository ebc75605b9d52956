// Package ollama generates chat completions with a local Ollama model.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"pdfchat/internal/domain"
)

const DefaultHost = "http://localhost:11434"

// ErrEmptyResponse is returned when the model finishes without producing text.
var ErrEmptyResponse = errors.New("ollama returned an empty response")

// Config holds settings for the chat client.
type Config struct {
	Host    string
	Timeout time.Duration
}

// Generator implements domain.Generator over the Ollama chat API.
type Generator struct {
	client *api.Client
}

// NewGenerator creates a chat client. A zero Timeout means generation may
// run as long as the caller's context allows.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return &Generator{client: api.NewClient(u, &http.Client{Timeout: cfg.Timeout})}, nil
}

// Generate sends the conversation to the model and returns the full reply.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if req.Model == "" {
		return "", domain.ErrUnknownModel
	}
	msgs := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}
	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.NumCtx > 0 {
		options["num_ctx"] = req.NumCtx
	}

	stream := false
	var sb strings.Builder
	err := g.client.Chat(ctx, &api.ChatRequest{
		Model:    req.Model.String(),
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat %s: %w", req.Model, err)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
