// Package conversation answers questions against one similarity index while
// keeping the chat history of the session.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"pdfchat/internal/domain"
	"pdfchat/internal/logging"
)

// Options tune retrieval and generation.
type Options struct {
	Temperature      float64
	NumCtx           int
	TopK             int
	CondenseQuestion bool
}

// DefaultOptions returns the fixed generation settings.
func DefaultOptions() Options {
	return Options{Temperature: 0.45, NumCtx: 4096, TopK: 4}
}

// Engine binds an index, the embedding model that built it, a generation
// model and the running history. Answers run one at a time; History never
// waits on an answer in flight.
type Engine struct {
	answering sync.Mutex
	mu        sync.Mutex
	index     domain.Index
	embedder  domain.Embedder
	generator domain.Generator
	model     domain.ModelID
	opts      Options
	history   []domain.Turn
	logger    *slog.Logger
}

// New creates an Engine with an empty history.
func New(idx domain.Index, e domain.Embedder, g domain.Generator, model domain.ModelID, opts Options, logger *slog.Logger) *Engine {
	def := DefaultOptions()
	if opts.Temperature <= 0 {
		opts.Temperature = def.Temperature
	}
	if opts.NumCtx <= 0 {
		opts.NumCtx = def.NumCtx
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	return &Engine{
		index:     idx,
		embedder:  e,
		generator: g,
		model:     model,
		opts:      opts,
		logger:    logging.OrDiscard(logger),
	}
}

func (e *Engine) Model() domain.ModelID { return e.model }

func (e *Engine) Index() domain.Index { return e.index }

// History returns a copy of the turns so far, oldest first.
func (e *Engine) History() []domain.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// Turns returns the number of completed turns.
func (e *Engine) Turns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

func (e *Engine) snapshot() []domain.Turn {
	out := make([]domain.Turn, len(e.history))
	copy(out, e.history)
	return out
}

// Answer retrieves context for question, asks the model and records the
// turn. On any error the history is left as it was.
func (e *Engine) Answer(ctx context.Context, question string) (string, []domain.Turn, error) {
	e.answering.Lock()
	defer e.answering.Unlock()

	history := e.History()
	query := question
	if e.opts.CondenseQuestion && len(history) > 0 {
		standalone, err := e.condense(ctx, history, question)
		if err != nil {
			return "", nil, fmt.Errorf("condense question: %w", err)
		}
		if standalone != "" {
			query = standalone
		}
		e.logger.Debug("condensed question", "question", question, "standalone", query)
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := e.index.Search(ctx, vec, e.opts.TopK)
	if err != nil {
		return "", nil, fmt.Errorf("retrieve context: %w", err)
	}

	msgs := make([]domain.Message, 0, 2+2*len(history))
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: groundingPrompt(hits)})
	for _, t := range history {
		msgs = append(msgs,
			domain.Message{Role: domain.RoleUser, Content: t.Question},
			domain.Message{Role: domain.RoleAssistant, Content: t.Answer})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: question})

	answer, err := e.generator.Generate(ctx, e.request(msgs))
	if err != nil {
		return "", nil, fmt.Errorf("generate answer with %s: %w", e.model, err)
	}

	e.mu.Lock()
	e.history = append(e.history, domain.Turn{Question: question, Answer: answer})
	turns := e.snapshot()
	e.mu.Unlock()

	e.logger.Info("answered question",
		"model", e.model,
		"retrieved", len(hits),
		"turns", len(turns))
	return answer, turns, nil
}

func (e *Engine) request(msgs []domain.Message) domain.GenerateRequest {
	return domain.GenerateRequest{
		Model:       e.model,
		Messages:    msgs,
		Temperature: e.opts.Temperature,
		NumCtx:      e.opts.NumCtx,
	}
}

// condense rewrites a follow-up into a question that stands on its own.
func (e *Engine) condense(ctx context.Context, history []domain.Turn, question string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Chat history:\n")
	for _, t := range history {
		fmt.Fprintf(&sb, "Human: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	sb.WriteString("\nFollow up question: ")
	sb.WriteString(question)
	sb.WriteString("\nStandalone question:")

	out, err := e.generator.Generate(ctx, e.request([]domain.Message{
		{Role: domain.RoleSystem, Content: condensePrompt},
		{Role: domain.RoleUser, Content: sb.String()},
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

const condensePrompt = "Given the conversation and a follow up question, rephrase the follow up " +
	"question to be a standalone question in its original language. Reply with the question only."

func groundingPrompt(hits []domain.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Use the following pieces of context from the user's documents to answer the question. ")
	sb.WriteString("If the answer is not in the context, say that you don't know instead of making one up.\n")
	sb.WriteString("----------------\n")
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if h.Chunk.Source != "" {
			fmt.Fprintf(&sb, "[Source: %s]\n", h.Chunk.Source)
		}
		sb.WriteString(h.Chunk.Text)
	}
	return sb.String()
}
