package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pdfchat/internal/chunker"
	"pdfchat/internal/conversation"
	"pdfchat/internal/domain"
	"pdfchat/internal/extract"
	"pdfchat/internal/indexer"
	"pdfchat/internal/sanitize"
	"pdfchat/internal/summarizer"
	"pdfchat/internal/testutil"
)

type fixture struct {
	ctrl    *Controller
	emb     *testutil.MockEmbedder
	gen     *testutil.MockGenerator
	builder *testutil.TrackingBuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		emb:     testutil.NewMockEmbedder("hello", "world", "alpha", "bravo", "document"),
		gen:     testutil.NewMockGenerator("The document says Hello World."),
		builder: &testutil.TrackingBuilder{},
	}
	f.ctrl = NewController(Config{
		Extractor:  extract.New(),
		Chunker:    chunker.NewDefault(),
		Indexer:    indexer.New(f.emb, f.builder),
		Generator:  f.gen,
		Summarizer: summarizer.NewFrequency(),
		Options:    conversation.DefaultOptions(),
	})
	t.Cleanup(func() { f.ctrl.Close() })
	return f
}

func pdfDoc(name string, pages ...string) domain.Document {
	return domain.Document{Name: name, Data: testutil.PDF(pages...)}
}

func TestScenario_HelloWorld(t *testing.T) {
	f := newFixture(t)
	sum, err := f.ctrl.Process(context.Background(), []domain.Document{pdfDoc("hello.pdf", "Hello World")}, domain.ModelMistral)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if sum.Chunks != 1 || len(sum.Files) != 1 || sum.Files[0].Pages != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}

	turns, err := f.ctrl.Ask(context.Background(), "What does the document say?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected history of length 1, got %d", len(turns))
	}
	if turns[0].Assistant == "" || turns[0].User != "What does the document say?" {
		t.Errorf("unexpected turn %+v", turns[0])
	}
	system := f.gen.Requests()[0].Messages[0].Content
	if !strings.Contains(system, "Hello World") || !strings.Contains(system, "hello.pdf") {
		t.Errorf("expected the document text as context, got %q", system)
	}
}

func TestScenario_AskBeforeProcessing(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Ask(context.Background(), "anything?")
	if !errors.Is(err, ErrNotReady) || !errors.Is(err, ErrInputRejected) {
		t.Fatalf("expected input rejection, got %v", err)
	}
	if f.ctrl.Ready() || f.ctrl.Snapshot().Ready {
		t.Error("session must stay unready")
	}
	if len(f.ctrl.Transcript()) != 0 {
		t.Error("history must be empty")
	}
	if len(f.gen.Requests()) != 0 {
		t.Error("generator must not be called")
	}
}

func TestScenario_GenerationUnavailable(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.Process(context.Background(), []domain.Document{pdfDoc("a.pdf", "Hello World")}, domain.ModelLlama3); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.Ask(context.Background(), "first question"); err != nil {
		t.Fatal(err)
	}

	f.gen.SetErr(errors.New("connection refused"))
	turns, err := f.ctrl.Ask(context.Background(), "second question")
	if !errors.Is(err, ErrAnswer) {
		t.Fatalf("expected AnswerError, got %v", err)
	}
	var ae *AnswerError
	if !errors.As(err, &ae) {
		t.Fatal("expected *AnswerError")
	}
	if turns != nil {
		t.Error("no transcript on failure")
	}
	if !f.ctrl.Ready() {
		t.Error("session must stay ready")
	}
	if n := len(f.ctrl.Transcript()); n != 1 {
		t.Errorf("history length changed to %d", n)
	}
}

func TestScenario_ReprocessReplacesIndexAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ctrl.Process(ctx, []domain.Document{pdfDoc("first.pdf", "alpha alpha alpha")}, domain.ModelMistral); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.Ask(ctx, "alpha?"); err != nil {
		t.Fatal(err)
	}

	sum, err := f.ctrl.Process(ctx, []domain.Document{pdfDoc("second.pdf", "bravo bravo bravo")}, domain.ModelPhi3)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.ctrl.Transcript()) != 0 {
		t.Error("history must reset after reprocessing")
	}
	if f.builder.Closed() != 1 {
		t.Errorf("expected the previous index to be closed, closed %d", f.builder.Closed())
	}
	if sum.Model != domain.ModelPhi3 || f.ctrl.Snapshot().Model != domain.ModelPhi3 {
		t.Errorf("expected phi3, got %s", f.ctrl.Snapshot().Model)
	}

	if _, err := f.ctrl.Ask(ctx, "alpha?"); err != nil {
		t.Fatal(err)
	}
	reqs := f.gen.Requests()
	system := reqs[len(reqs)-1].Messages[0].Content
	if strings.Contains(system, "alpha") || strings.Contains(system, "first.pdf") {
		t.Errorf("old documents leaked into retrieval: %q", system)
	}
	if !strings.Contains(system, "bravo") {
		t.Errorf("expected new documents in retrieval: %q", system)
	}
}

func TestProcess_FailureKeepsPreviousState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ctrl.Process(ctx, []domain.Document{pdfDoc("a.pdf", "Hello World")}, domain.ModelGemma); err != nil {
		t.Fatal(err)
	}
	f.ctrl.Ask(ctx, "q1")
	before := f.ctrl.Snapshot()

	f.emb.FailOn("bravo")
	_, err := f.ctrl.Process(ctx, []domain.Document{pdfDoc("b.pdf", "bravo")}, domain.ModelMistral)
	var ie *IngestionError
	if !errors.As(err, &ie) || ie.Stage != StageIndex || !errors.Is(err, ErrIngestion) {
		t.Fatalf("expected index-stage IngestionError, got %v", err)
	}

	after := f.ctrl.Snapshot()
	if after.Model != before.Model || after.Turns != before.Turns || after.Summary.Files[0].Name != "a.pdf" {
		t.Errorf("state changed after failed ingestion: %+v -> %+v", before, after)
	}
	if f.builder.Closed() != 0 {
		t.Error("previous index must stay open")
	}
}

func TestProcess_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name  string
		docs  []domain.Document
		model domain.ModelID
		stage Stage
		want  error
	}{
		{"unknown model", []domain.Document{pdfDoc("a.pdf", "x")}, "gpt-4", StageValidate, domain.ErrUnknownModel},
		{"not a pdf name", []domain.Document{{Name: "a.txt", Data: []byte("x")}}, domain.ModelMistral, StageValidate, domain.ErrNotPDF},
		{"unreadable pdf", []domain.Document{{Name: "a.pdf", Data: []byte("junk")}}, domain.ModelMistral, StageExtract, nil},
		{"no text", []domain.Document{pdfDoc("blank.pdf", "")}, domain.ModelMistral, StageChunk, indexer.ErrNoChunks},
		{"no files", nil, domain.ModelMistral, StageChunk, indexer.ErrNoChunks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.Process(ctx, tt.docs, tt.model)
			var ie *IngestionError
			if !errors.As(err, &ie) {
				t.Fatalf("expected IngestionError, got %v", err)
			}
			if ie.Stage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, ie.Stage)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if f.ctrl.Ready() {
				t.Error("session must stay unready")
			}
		})
	}
}

type panickyExtractor struct{}

func (panickyExtractor) Extract(context.Context, []domain.Document) (extract.Result, error) {
	panic("boom")
}

func TestProcess_RecoversPanics(t *testing.T) {
	ctrl := NewController(Config{
		Extractor: panickyExtractor{},
		Chunker:   chunker.NewDefault(),
		Indexer:   indexer.New(testutil.NewMockEmbedder("x"), &testutil.TrackingBuilder{}),
		Generator: testutil.NewMockGenerator("x"),
	})
	_, err := ctrl.Process(context.Background(), []domain.Document{pdfDoc("a.pdf", "x")}, domain.ModelMistral)
	var ie *IngestionError
	if !errors.As(err, &ie) || ie.Stage != StageExtract {
		t.Fatalf("expected extract-stage IngestionError, got %v", err)
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Process(context.Background(), []domain.Document{pdfDoc("a.pdf", "Hello World")}, domain.ModelMistral)
	if _, err := f.ctrl.Ask(context.Background(), "  \n "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestAsk_SanitizesTranscript(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Process(context.Background(), []domain.Document{pdfDoc("a.pdf", "Hello World")}, domain.ModelMistral)
	f.gen.SetReply(func(domain.GenerateRequest) string { return "\x1b[2Jclean\x00 answer\r\n" })

	turns, err := f.ctrl.Ask(context.Background(), "bell\a question")
	if err != nil {
		t.Fatal(err)
	}
	if turns[0].Assistant != "[2Jclean answer" || turns[0].User != "bell question" {
		t.Errorf("unexpected sanitized turn %+v", turns[0])
	}
}

func TestAsk_RejectsConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Process(context.Background(), []domain.Document{pdfDoc("a.pdf", "Hello World")}, domain.ModelMistral)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.gen.SetReply(func(domain.GenerateRequest) string {
		close(entered)
		<-release
		return "done"
	})
	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Ask(context.Background(), "slow")
		done <- err
	}()
	<-entered
	if _, err := f.ctrl.Ask(context.Background(), "fast"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("slow ask failed: %v", err)
	}
}

func TestAdvisory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotReady, "Please upload and process PDF files first."},
		{&IngestionError{Stage: StageChunk, Err: indexer.ErrNoChunks}, "No extractable text found in the uploaded PDFs."},
		{&IngestionError{Stage: StageValidate, Err: domain.ErrUnknownModel}, "Unknown model. Choose one of mistral, llama3, phi3, gemma."},
		{&IngestionError{Stage: StageIndex, Err: errors.New("refused")}, "Processing failed during index: refused"},
		{&AnswerError{Err: errors.New("refused")}, "Could not answer: refused"},
		{&AnswerError{Err: context.DeadlineExceeded}, "The model took too long to answer. Try again."},
		{&AnswerError{Err: errors.New("model said \x1b[2J\x1b]0;pwned\x07 bye")}, "Could not answer: model said [2J]0;pwned bye"},
		{&IngestionError{Stage: StageExtract, Err: errors.New("bad\x00 file\x1b[31m.pdf")}, "Processing failed during extract: bad file[31m.pdf"},
		{errors.New("raw\x1b\x07 error"), "Error: raw error"},
	}
	for _, tt := range tests {
		got := Advisory(tt.err)
		if got != tt.want {
			t.Errorf("Advisory(%v) = %q, want %q", tt.err, got, tt.want)
		}
		if !sanitize.Printable(got) {
			t.Errorf("Advisory(%v) contains non-printable characters: %q", tt.err, got)
		}
	}
}

func TestSnapshot_DoesNotWaitForAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ctrl.Process(ctx, []domain.Document{pdfDoc("a.pdf", "Hello World")}, domain.ModelMistral); err != nil {
		t.Fatal(err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	f.gen.SetReply(func(domain.GenerateRequest) string {
		close(entered)
		<-release
		return "done"
	})
	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Ask(ctx, "slow")
		done <- err
	}()
	<-entered

	got := make(chan Snapshot, 1)
	go func() { got <- f.ctrl.Snapshot() }()
	select {
	case snap := <-got:
		if !snap.Ready || snap.Turns != 0 {
			t.Errorf("unexpected snapshot while answering: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked while an answer was in flight")
	}
	if n := len(f.ctrl.Transcript()); n != 0 {
		t.Errorf("expected no turns yet, got %d", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("slow ask failed: %v", err)
	}
	if n := f.ctrl.Snapshot().Turns; n != 1 {
		t.Errorf("expected 1 turn after the answer, got %d", n)
	}
}

func TestSnapshot_ConcurrentWithProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := f.ctrl.Snapshot()
			if snap.Ready && snap.Summary.Took <= 0 {
				t.Error("published summary is missing its duration")
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		if _, err := f.ctrl.Process(ctx, []domain.Document{pdfDoc("a.pdf", "Hello World")}, domain.ModelMistral); err != nil {
			t.Fatalf("process %d failed: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}
