// Package extract turns uploaded PDF documents into one plain-text blob.
// Extraction is best-effort: pages that fail or carry no text contribute an
// empty string instead of failing the whole batch.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"pdfchat/internal/domain"
	"pdfchat/internal/logging"
)

// PageSource is an opened document that can yield text page by page.
type PageSource interface {
	NumPage() int
	PageText(n int) (string, error)
}

// Opener opens raw document bytes.
type Opener func(data []byte) (PageSource, error)

// Span records which rune range of the blob came from which document.
type Span struct {
	Name  string
	Pages int
	Start int
	End   int
}

// Result is the concatenated text plus per-document bookkeeping.
type Result struct {
	Text  string
	Spans []Span
}

// SourceAt names the document whose text covers the rune offset.
func (r Result) SourceAt(offset int) string {
	for _, s := range r.Spans {
		if offset >= s.Start && offset < s.End {
			return s.Name
		}
	}
	return ""
}

// Pages returns the total page count across all documents.
func (r Result) Pages() int {
	total := 0
	for _, s := range r.Spans {
		total += s.Pages
	}
	return total
}

// Extractor reads text out of PDF documents.
type Extractor struct {
	open   Opener
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOpener replaces the PDF backend, mostly for tests.
func WithOpener(o Opener) Option {
	return func(e *Extractor) { e.open = o }
}

// WithLogger sets the logger used for skipped pages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logging.OrDiscard(l) }
}

// New creates an Extractor backed by github.com/ledongthuc/pdf.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		open:   OpenPDF,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract concatenates the text of every page of every document, preserving
// upload order and page order. docs[i].Pages is filled in.
func (e *Extractor) Extract(ctx context.Context, docs []domain.Document) (Result, error) {
	var sb strings.Builder
	res := Result{Spans: make([]Span, 0, len(docs))}
	offset := 0
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		src, err := e.safeOpen(docs[i].Data)
		if err != nil {
			return Result{}, fmt.Errorf("open %s: %w", docs[i].Name, err)
		}
		n := src.NumPage()
		docs[i].Pages = n
		start := offset
		for p := 1; p <= n; p++ {
			text := e.pageText(src, docs[i].Name, p)
			sb.WriteString(text)
			offset += utf8.RuneCountInString(text)
		}
		res.Spans = append(res.Spans, Span{Name: docs[i].Name, Pages: n, Start: start, End: offset})
		e.logger.Debug("extracted document", "name", docs[i].Name, "pages", n, "chars", offset-start)
	}
	res.Text = sb.String()
	return res, nil
}

func (e *Extractor) safeOpen(data []byte) (src PageSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			src, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	return e.open(data)
}

// pageText never fails; unreadable pages become "".
func (e *Extractor) pageText(src PageSource, name string, n int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("page skipped", "name", name, "page", n, "panic", r)
			text = ""
		}
	}()
	text, err := src.PageText(n)
	if err != nil {
		e.logger.Debug("page skipped", "name", name, "page", n, "error", err)
		return ""
	}
	return text
}

type ledongthucSource struct {
	r *pdf.Reader
}

// OpenPDF opens data with github.com/ledongthuc/pdf.
func OpenPDF(data []byte) (PageSource, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return ledongthucSource{r: r}, nil
}

func (s ledongthucSource) NumPage() int { return s.r.NumPage() }

func (s ledongthucSource) PageText(n int) (string, error) {
	p := s.r.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
