package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"pdfchat/internal/chunker"
	"pdfchat/internal/config"
	"pdfchat/internal/conversation"
	"pdfchat/internal/domain"
	"pdfchat/internal/embedding/ollama"
	"pdfchat/internal/extract"
	"pdfchat/internal/indexer"
	llm "pdfchat/internal/llm/ollama"
	"pdfchat/internal/logging"
	"pdfchat/internal/session"
	"pdfchat/internal/summarizer"
	"pdfchat/internal/tui"
	"pdfchat/internal/vectorstore/memory"
	"pdfchat/internal/vectorstore/qdrant"
	"pdfchat/internal/vectorstore/sqlite"
	"pdfchat/internal/watcher"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath string
		model   string
		inbox   string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/pdfchat/config.yaml if not provided)")
	flag.StringVar(&model, "model", "", "Generation model: mistral, llama3, phi3 or gemma (overrides config)")
	flag.StringVar(&inbox, "inbox", "", "Directory watched for new PDF files (overrides config)")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: pdfchat [--config=config.yaml] [--model=mistral] [file.pdf ...]")
		flag.PrintDefaults()
	}
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	config.ApplyEnv(cfg, os.LookupEnv)
	if model != "" {
		cfg.Generation.Model = model
	}
	if inbox != "" {
		cfg.Upload.InboxDir = inbox
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config %s: %v", cfgPath, err)
	}
	startModel, _ := domain.ParseModel(cfg.Generation.Model)

	files, err := session.ExpandPaths(flag.Args())
	if err != nil {
		log.Fatalf("bad input files: %v", err)
	}

	logger, logFile, err := logging.Setup(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logFile.Close()
	logger.Info("starting pdfchat", "config", cfgPath, "model", startModel, "index", cfg.Index.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Assemble components
	emb, err := ollama.NewEmbedder(ollama.Config{
		Host:       cfg.Ollama.Host,
		Model:      cfg.Ollama.EmbedModel,
		Timeout:    cfg.OllamaTimeout(),
		MaxRetries: cfg.Embedding.MaxRetries,
	})
	if err != nil {
		log.Fatalf("embedder init failed: %v", err)
	}
	if !emb.Available(ctx) {
		logger.Warn("ollama not reachable; processing will fail until it is", "host", cfg.Ollama.Host)
	}

	gen, err := llm.NewGenerator(llm.Config{Host: cfg.Ollama.Host, Timeout: cfg.OllamaTimeout()})
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}

	var builder domain.IndexBuilder
	switch cfg.Index.Type {
	case config.IndexMemory:
		builder = memory.NewBuilder()
	case config.IndexSQLite:
		builder = sqlite.NewBuilder()
	case config.IndexQdrant:
		q := cfg.Index.Qdrant
		builder = qdrant.NewBuilder(qdrant.Config{
			URL:              q.URL,
			APIKey:           q.APIKey,
			CollectionPrefix: q.CollectionPrefix,
			Timeout:          time.Duration(q.TimeoutSecs) * time.Second,
		})
	default:
		log.Fatalf("unknown index backend: %s", cfg.Index.Type)
	}

	opts := conversation.DefaultOptions()
	opts.CondenseQuestion = cfg.Generation.Condense()

	ctrl := session.NewController(session.Config{
		Extractor: extract.New(extract.WithLogger(logger)),
		Chunker:   chunker.NewDefault(),
		Indexer: indexer.New(emb, builder,
			indexer.WithConcurrency(cfg.Embedding.Concurrency),
			indexer.WithLogger(logger)),
		Generator:        gen,
		Summarizer:       summarizer.NewFrequency(),
		SummarySentences: cfg.Summary.MaxSentences,
		Options:          opts,
		Logger:           logger,
	})
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Warn("closing session", "err", err)
		}
	}()

	tuiOpts := []tui.Option{tui.WithFiles(files)}
	if cfg.Upload.InboxDir != "" {
		in, err := startInbox(cfg.Upload.InboxDir, logger)
		if err != nil {
			log.Fatalf("inbox watcher failed: %v", err)
		}
		defer in.Close()
		existing, err := in.Existing()
		if err != nil {
			logger.Warn("listing inbox", "dir", in.Dir(), "err", err)
		}
		tuiOpts = append(tuiOpts, tui.WithFiles(existing), tui.WithInbox(in.Watch(ctx)))
	}

	m := tui.New(ctx, ctrl, startModel, tuiOpts...)
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}

func startInbox(dir string, logger *slog.Logger) (*watcher.Inbox, error) {
	in, err := watcher.NewInbox(dir, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("watching inbox", "dir", dir)
	return in, nil
}
