// Package testutil provides shared test helpers and mock implementations.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"pdfchat/internal/domain"
	"pdfchat/internal/vectorstore/memory"
)

// ErrInjected is returned by mocks told to fail.
var ErrInjected = errors.New("injected failure")

// MockEmbedder maps text to a bag-of-keywords vector, so texts sharing a
// keyword score as similar. A final constant component keeps vectors non-zero.
type MockEmbedder struct {
	Vocab []string

	mu     sync.Mutex
	failOn string
	calls  atomic.Int64
}

// NewMockEmbedder creates an embedder over the given keywords.
func NewMockEmbedder(vocab ...string) *MockEmbedder {
	return &MockEmbedder{Vocab: vocab}
}

func (m *MockEmbedder) Name() string { return "mock-embed" }

// FailOn makes Embed fail for any text containing substr. Empty disables it.
func (m *MockEmbedder) FailOn(substr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = substr
}

// Calls returns how many times Embed ran.
func (m *MockEmbedder) Calls() int { return int(m.calls.Load()) }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	failOn := m.failOn
	m.mu.Unlock()
	if failOn != "" && strings.Contains(text, failOn) {
		return nil, ErrInjected
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(m.Vocab)+1)
	for i, w := range m.Vocab {
		vec[i] = float32(strings.Count(lower, strings.ToLower(w)))
	}
	vec[len(m.Vocab)] = 0.01
	return vec, nil
}

// MockGenerator returns canned replies and records every request.
type MockGenerator struct {
	mu       sync.Mutex
	reply    func(req domain.GenerateRequest) string
	err      error
	requests []domain.GenerateRequest
}

// NewMockGenerator answers every request with reply.
func NewMockGenerator(reply string) *MockGenerator {
	return &MockGenerator{reply: func(domain.GenerateRequest) string { return reply }}
}

// NewEchoGenerator answers with the content of the last message.
func NewEchoGenerator() *MockGenerator {
	return &MockGenerator{reply: func(req domain.GenerateRequest) string {
		if len(req.Messages) == 0 {
			return ""
		}
		return "echo: " + req.Messages[len(req.Messages)-1].Content
	}}
}

// SetReply replaces the reply function.
func (m *MockGenerator) SetReply(fn func(req domain.GenerateRequest) string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = fn
}

// SetErr makes Generate fail with err. Nil restores normal replies.
func (m *MockGenerator) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns a copy of all requests received so far.
func (m *MockGenerator) Requests() []domain.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.GenerateRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	return m.reply(req), nil
}

// TrackingBuilder wraps the in-memory builder and counts closed indexes.
type TrackingBuilder struct {
	Fail bool

	built  atomic.Int64
	closed atomic.Int64
}

func (b *TrackingBuilder) Name() string { return "tracking" }

func (b *TrackingBuilder) Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) (domain.Index, error) {
	if b.Fail {
		return nil, ErrInjected
	}
	idx, err := memory.NewBuilder().Build(ctx, chunks, vectors)
	if err != nil {
		return nil, err
	}
	b.built.Add(1)
	return &trackedIndex{Index: idx, closed: &b.closed}, nil
}

// Built returns how many indexes were built.
func (b *TrackingBuilder) Built() int { return int(b.built.Load()) }

// Closed returns how many indexes were closed.
func (b *TrackingBuilder) Closed() int { return int(b.closed.Load()) }

type trackedIndex struct {
	domain.Index
	closed *atomic.Int64
	once   sync.Once
}

func (t *trackedIndex) Close() error {
	t.once.Do(func() { t.closed.Add(1) })
	return t.Index.Close()
}
