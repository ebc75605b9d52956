package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pdfchat/internal/domain"
)

// OllamaConfig points at the Ollama server serving both models.
type OllamaConfig struct {
	Host        string `yaml:"host"`
	EmbedModel  string `yaml:"embed_model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GenerationConfig selects the default chat model.
type GenerationConfig struct {
	Model string `yaml:"model"`
	// CondenseQuestion defaults to true when absent.
	CondenseQuestion *bool `yaml:"condense_question,omitempty"`
}

// Condense reports whether follow-up questions are rewritten before retrieval.
func (g GenerationConfig) Condense() bool {
	return g.CondenseQuestion == nil || *g.CondenseQuestion
}

// EmbeddingConfig tunes chunk embedding during ingestion.
type EmbeddingConfig struct {
	Concurrency int `yaml:"concurrency"`
	// MaxRetries of an overloaded embedding call; 0 means the default, -1 disables retries.
	MaxRetries int `yaml:"max_retries"`
}

// IndexConfig selects and configures the similarity index backend.
type IndexConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant server.
type QdrantConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
}

// UploadConfig configures additional upload sources.
type UploadConfig struct {
	InboxDir string `yaml:"inbox_dir"`
}

// SummaryConfig configures the overview shown after processing.
type SummaryConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// LogConfig configures the file logger.
type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Ollama     OllamaConfig     `yaml:"ollama"`
	Generation GenerationConfig `yaml:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Index      IndexConfig      `yaml:"index"`
	Upload     UploadConfig     `yaml:"upload"`
	Summary    SummaryConfig    `yaml:"summary"`
	Log        LogConfig        `yaml:"log"`
}

// Index backends.
const (
	IndexMemory = "memory"
	IndexSQLite = "sqlite"
	IndexQdrant = "qdrant"
)

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/pdfchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/pdfchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides settings from environment variables. lookup is
// usually os.LookupEnv.
func ApplyEnv(cfg *AppConfig, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("OLLAMA_HOST", &cfg.Ollama.Host)
	set("PDFCHAT_MODEL", &cfg.Generation.Model)
	set("PDFCHAT_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	set("PDFCHAT_LOG_LEVEL", &cfg.Log.Level)

	_, hasURL := lookup("QDRANT_URL")
	_, hasKey := lookup("QDRANT_API_KEY")
	if hasURL || hasKey {
		if cfg.Index.Qdrant == nil {
			cfg.Index.Qdrant = &QdrantConfig{}
		}
		set("QDRANT_URL", &cfg.Index.Qdrant.URL)
		set("QDRANT_API_KEY", &cfg.Index.Qdrant.APIKey)
		applyConfigDefaults(cfg)
	}
}

// Validate reports settings the application cannot run with.
func (c *AppConfig) Validate() error {
	if _, err := domain.ParseModel(c.Generation.Model); err != nil {
		return fmt.Errorf("generation.model: %w", err)
	}
	switch c.Index.Type {
	case IndexMemory, IndexSQLite:
	case IndexQdrant:
		if c.Index.Qdrant == nil || c.Index.Qdrant.URL == "" {
			return errors.New("index.qdrant.url is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("index.type: unknown backend %q", c.Index.Type)
	}
	return nil
}

// OllamaTimeout returns the per-request timeout for Ollama calls.
func (c *AppConfig) OllamaTimeout() time.Duration {
	return time.Duration(c.Ollama.TimeoutSecs) * time.Second
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pdfchat", "config.yaml"), nil
}

func defaultLogDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pdfchat", "logs")
	}
	return filepath.Join(os.TempDir(), "pdfchat-logs")
}

func defaultConfig() *AppConfig {
	condense := true
	cfg := &AppConfig{
		Ollama:     OllamaConfig{Host: "http://localhost:11434", EmbedModel: "nomic-embed-text", TimeoutSecs: 300},
		Generation: GenerationConfig{Model: string(domain.ModelMistral), CondenseQuestion: &condense},
		Embedding:  EmbeddingConfig{Concurrency: 2, MaxRetries: 3},
		Index:      IndexConfig{Type: IndexMemory},
		Summary:    SummaryConfig{MaxSentences: 3},
		Log:        LogConfig{Dir: defaultLogDir(), Level: "info"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.Ollama.Host == "" {
		cfg.Ollama.Host = def.Ollama.Host
	}
	if cfg.Ollama.EmbedModel == "" {
		cfg.Ollama.EmbedModel = def.Ollama.EmbedModel
	}
	if cfg.Ollama.TimeoutSecs == 0 {
		cfg.Ollama.TimeoutSecs = def.Ollama.TimeoutSecs
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = def.Generation.Model
	}
	if cfg.Generation.CondenseQuestion == nil {
		cfg.Generation.CondenseQuestion = def.Generation.CondenseQuestion
	}
	if cfg.Embedding.Concurrency <= 0 {
		cfg.Embedding.Concurrency = def.Embedding.Concurrency
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = def.Embedding.MaxRetries
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = def.Index.Type
	}
	if cfg.Index.Qdrant != nil {
		if cfg.Index.Qdrant.CollectionPrefix == "" {
			cfg.Index.Qdrant.CollectionPrefix = "pdfchat"
		}
		if cfg.Index.Qdrant.TimeoutSecs == 0 {
			cfg.Index.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Summary.MaxSentences == 0 {
		cfg.Summary.MaxSentences = def.Summary.MaxSentences
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = def.Log.Dir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}
