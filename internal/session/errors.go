package session

import (
	"context"
	"errors"
	"fmt"

	"pdfchat/internal/domain"
	"pdfchat/internal/indexer"
	"pdfchat/internal/sanitize"
)

// Stage names the ingestion step that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageExtract  Stage = "extract"
	StageChunk    Stage = "chunk"
	StageIndex    Stage = "index"
)

var (
	// ErrIngestion matches every *IngestionError.
	ErrIngestion = errors.New("ingestion failed")
	// ErrAnswer matches every *AnswerError.
	ErrAnswer = errors.New("answer failed")

	ErrInputRejected = errors.New("input rejected")
	ErrNotReady      = fmt.Errorf("%w: process documents before asking questions", ErrInputRejected)
	ErrEmptyQuestion = fmt.Errorf("%w: question is empty", ErrInputRejected)
	ErrBusy          = fmt.Errorf("%w: another request is still running", ErrInputRejected)
)

// IngestionError reports a failed ingestion cycle. Session state is unchanged.
type IngestionError struct {
	Stage Stage
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

func (e *IngestionError) Is(target error) bool { return target == ErrIngestion }

// AnswerError reports a failed question. History is unchanged and the session stays ready.
type AnswerError struct {
	Err error
}

func (e *AnswerError) Error() string { return fmt.Sprintf("answer failed: %v", e.Err) }

func (e *AnswerError) Unwrap() error { return e.Err }

func (e *AnswerError) Is(target error) bool { return target == ErrAnswer }

// Advisory turns an error into a one-line message for the user.
func Advisory(err error) string {
	if err == nil {
		return ""
	}
	return sanitize.Display(advisory(err))
}

func advisory(err error) string {
	var (
		ingest *IngestionError
		answer *AnswerError
	)
	switch {
	case errors.Is(err, ErrNotReady):
		return "Please upload and process PDF files first."
	case errors.Is(err, ErrEmptyQuestion):
		return "Type a question first."
	case errors.Is(err, ErrBusy):
		return "Still working on the previous request."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.As(err, &ingest):
		switch {
		case errors.Is(err, domain.ErrUnknownModel):
			return "Unknown model. Choose one of mistral, llama3, phi3, gemma."
		case errors.Is(err, domain.ErrNotPDF):
			return "Only .pdf files can be processed."
		case errors.Is(err, indexer.ErrNoChunks):
			return "No extractable text found in the uploaded PDFs."
		}
		return fmt.Sprintf("Processing failed during %s: %v", ingest.Stage, ingest.Err)
	case errors.As(err, &answer):
		if errors.Is(err, context.DeadlineExceeded) {
			return "The model took too long to answer. Try again."
		}
		return fmt.Sprintf("Could not answer: %v", answer.Err)
	}
	return "Error: " + err.Error()
}
