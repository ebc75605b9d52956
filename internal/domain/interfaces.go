package domain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Document is a single uploaded file. It lives only until its text is extracted.
type Document struct {
	Name  string
	Data  []byte
	Pages int
}

// Chunk is a contiguous substring of the concatenated document text.
// Start and End are rune offsets into that text.
type Chunk struct {
	Index  int
	Text   string
	Start  int
	End    int
	Source string
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Turn is one question/answer exchange.
type Turn struct {
	Question string
	Answer   string
}

// Role of a chat message sent to the generation model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message sent to the generation model.
type Message struct {
	Role    string
	Content string
}

// GenerateRequest carries everything a generation call needs.
type GenerateRequest struct {
	Model       ModelID
	Messages    []Message
	Temperature float64
	NumCtx      int
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a chat completion.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Chunker splits text into ordered, overlapping chunks.
type Chunker interface {
	Split(text string) []Chunk
}

// Index is an immutable similarity index over embedded chunks.
type Index interface {
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	Len() int
	Close() error
}

// IndexBuilder constructs a fresh Index from chunks and their vectors.
// chunks[i] is paired with vectors[i].
type IndexBuilder interface {
	Name() string
	Build(ctx context.Context, chunks []Chunk, vectors [][]float32) (Index, error)
}

// ModelID names a generation model the user may choose.
type ModelID string

const (
	ModelMistral ModelID = "mistral"
	ModelLlama3  ModelID = "llama3"
	ModelPhi3    ModelID = "phi3"
	ModelGemma   ModelID = "gemma"
)

// Models lists the selectable generation models in display order.
var Models = []ModelID{ModelMistral, ModelLlama3, ModelPhi3, ModelGemma}

var (
	ErrUnknownModel = errors.New("unknown generation model")
	ErrNotPDF       = errors.New("not a .pdf file")
)

// ParseModel validates s against the closed set of generation models.
func ParseModel(s string) (ModelID, error) {
	id := ModelID(strings.ToLower(strings.TrimSpace(s)))
	for _, m := range Models {
		if m == id {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
}

// Next returns the model after m in Models, wrapping around.
func (m ModelID) Next() ModelID {
	for i, id := range Models {
		if id == m {
			return Models[(i+1)%len(Models)]
		}
	}
	return Models[0]
}

func (m ModelID) String() string { return string(m) }

// IsPDF reports whether name carries the .pdf extension.
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
