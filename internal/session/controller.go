// Package session owns the state of one chat session: the active
// conversation engine and the ingestion that produced it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pdfchat/internal/conversation"
	"pdfchat/internal/domain"
	"pdfchat/internal/extract"
	"pdfchat/internal/indexer"
	"pdfchat/internal/logging"
	"pdfchat/internal/sanitize"
)

type Extractor interface {
	Extract(ctx context.Context, docs []domain.Document) (extract.Result, error)
}

type Indexer interface {
	Build(ctx context.Context, chunks []domain.Chunk) (domain.Index, error)
	Embedder() domain.Embedder
	Backend() string
}

type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Config wires the pipeline stages into a Controller.
type Config struct {
	Extractor        Extractor
	Chunker          domain.Chunker
	Indexer          Indexer
	Generator        domain.Generator
	Summarizer       Summarizer // optional
	SummarySentences int
	Options          conversation.Options
	Logger           *slog.Logger
}

// FileSummary describes one processed document.
type FileSummary struct {
	Name  string
	Pages int
}

// Summary describes a completed ingestion cycle.
type Summary struct {
	Model      domain.ModelID
	Backend    string
	Files      []FileSummary
	Characters int
	Chunks     int
	Overview   string
	Took       time.Duration
}

// State is the session value swapped in by a successful ingestion.
// A nil *State means the session is not ready.
type State struct {
	Engine  *conversation.Engine
	Summary Summary
}

// DisplayTurn is one sanitized question/answer pair ready for rendering.
type DisplayTurn struct {
	User      string
	Assistant string
}

// Snapshot is a read-only view of the session for the UI.
type Snapshot struct {
	Ready   bool
	Model   domain.ModelID
	Turns   int
	Summary Summary
}

// Controller routes ingestion and questions. Only one operation runs at a time;
// a second concurrent call is rejected with ErrBusy.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	op    sync.Mutex
	mu    sync.RWMutex
	state *State
}

func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg, logger: logging.OrDiscard(cfg.Logger)}
}

// Ready reports whether a conversation engine is bound.
func (c *Controller) Ready() bool {
	return c.current() != nil
}

func (c *Controller) current() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Process runs a full ingestion cycle and, on success, replaces the session
// state and discards the previous history. On failure the previous state is kept.
func (c *Controller) Process(ctx context.Context, docs []domain.Document, model domain.ModelID) (sum Summary, err error) {
	if !c.op.TryLock() {
		return Summary{}, ErrBusy
	}
	defer c.op.Unlock()

	started := time.Now()
	stage := StageValidate
	var idx domain.Index
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during ingestion", "stage", stage, "panic", r)
			err = &IngestionError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil && idx != nil {
			_ = idx.Close()
		}
	}()

	fail := func(e error) (Summary, error) {
		c.logger.Warn("ingestion failed", "stage", stage, "err", e)
		return Summary{}, &IngestionError{Stage: stage, Err: e}
	}

	model, err = domain.ParseModel(string(model))
	if err != nil {
		return fail(err)
	}
	for _, d := range docs {
		if !domain.IsPDF(d.Name) {
			return fail(fmt.Errorf("%w: %s", domain.ErrNotPDF, d.Name))
		}
	}

	stage = StageExtract
	text, err := c.cfg.Extractor.Extract(ctx, docs)
	if err != nil {
		return fail(err)
	}

	stage = StageChunk
	chunks := c.cfg.Chunker.Split(text.Text)
	for i := range chunks {
		chunks[i].Source = text.SourceAt(chunks[i].Start)
	}
	if len(chunks) == 0 {
		return fail(indexer.ErrNoChunks)
	}

	stage = StageIndex
	idx, err = c.cfg.Indexer.Build(ctx, chunks)
	if err != nil {
		return fail(err)
	}

	sum = Summary{
		Model:      model,
		Backend:    c.cfg.Indexer.Backend(),
		Characters: len([]rune(text.Text)),
		Chunks:     len(chunks),
		Overview:   c.overview(text.Text),
	}
	for _, d := range docs {
		sum.Files = append(sum.Files, FileSummary{Name: d.Name, Pages: d.Pages})
	}
	engine := conversation.New(idx, c.cfg.Indexer.Embedder(), c.cfg.Generator, model, c.cfg.Options, c.logger)
	sum.Took = time.Since(started)
	// A published State is never written again.
	next := &State{Engine: engine, Summary: sum}

	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	idx = nil

	if prev != nil {
		if cerr := prev.Engine.Index().Close(); cerr != nil {
			c.logger.Warn("closing previous index", "err", cerr)
		}
	}

	c.logger.Info("documents processed",
		"files", len(docs),
		"chunks", sum.Chunks,
		"model", model,
		"backend", sum.Backend,
		"took", sum.Took)
	return sum, nil
}

func (c *Controller) overview(text string) string {
	if c.cfg.Summarizer == nil {
		return ""
	}
	out, err := c.cfg.Summarizer.Summarize(text, c.cfg.SummarySentences)
	if err != nil {
		c.logger.Warn("summary failed", "err", err)
		return ""
	}
	return sanitize.Display(out)
}

// Ask answers question with the bound engine and returns the whole transcript.
func (c *Controller) Ask(ctx context.Context, question string) (turns []DisplayTurn, err error) {
	if !c.op.TryLock() {
		return nil, ErrBusy
	}
	defer c.op.Unlock()

	st := c.current()
	if st == nil {
		return nil, ErrNotReady
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while answering", "panic", r)
			turns, err = nil, &AnswerError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	started := time.Now()
	_, history, err := st.Engine.Answer(ctx, question)
	if err != nil {
		c.logger.Warn("answer failed", "model", st.Engine.Model(), "err", err)
		return nil, &AnswerError{Err: err}
	}
	c.logger.Debug("question answered", "took", time.Since(started))
	return display(history), nil
}

// Transcript returns the sanitized history of the active engine.
func (c *Controller) Transcript() []DisplayTurn {
	st := c.current()
	if st == nil {
		return nil
	}
	return display(st.Engine.History())
}

// Snapshot reports the current session state.
func (c *Controller) Snapshot() Snapshot {
	st := c.current()
	if st == nil {
		return Snapshot{}
	}
	return Snapshot{
		Ready:   true,
		Model:   st.Engine.Model(),
		Turns:   st.Engine.Turns(),
		Summary: st.Summary,
	}
}

// Close releases the active index.
func (c *Controller) Close() error {
	c.mu.Lock()
	st := c.state
	c.state = nil
	c.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.Engine.Index().Close()
}

func display(history []domain.Turn) []DisplayTurn {
	out := make([]DisplayTurn, len(history))
	for i, t := range history {
		out[i] = DisplayTurn{User: sanitize.Display(t.Question), Assistant: sanitize.Display(t.Answer)}
	}
	return out
}
