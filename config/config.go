// Package config loads the service configuration: defaults, then an
// optional YAML file, then .env, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-recall/analysis"
	"github.com/becomeliminal/nim-recall/document"
	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/preference"
	"github.com/becomeliminal/nim-recall/scheduler"
)

// Embedding providers.
const (
	EmbeddingMock   = "mock"
	EmbeddingOpenAI = "openai"
	EmbeddingONNX   = "onnx"
)

// Analysis providers.
const (
	AnalysisClaude = "claude"
	AnalysisStatic = "static"
)

// Memory backends.
const (
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
)

// Config is the full service configuration.
type Config struct {
	Storage    StorageConfig         `yaml:"storage"`
	Embedding  EmbeddingConfig       `yaml:"embedding"`
	Chunking   ChunkingConfig        `yaml:"chunking"`
	Search     engine.SearchDefaults `yaml:"search"`
	Memory     memory.Config         `yaml:"memory"`
	Preference preference.Config     `yaml:"preference"`
	Analysis   AnalysisConfig        `yaml:"analysis"`
	Server     ServerConfig          `yaml:"server"`
	Scheduler  SchedulerConfig       `yaml:"scheduler"`
	Watch      WatchConfig           `yaml:"watch"`
	Logging    logging.Config        `yaml:"logging"`
}

// StorageConfig selects where data lives.
type StorageConfig struct {
	// Path is the SQLite database file.
	// Default: data/nim-recall.db
	Path string `yaml:"path"`

	// MemoryBackend stores conversation memories in sqlite (persistent)
	// or chromem (in-process, lost on restart).
	// Default: sqlite
	MemoryBackend string `yaml:"memory_backend"`
}

// EmbeddingConfig configures the embedding provider and gateway.
type EmbeddingConfig struct {
	// Provider is mock, openai or onnx.
	// Default: mock
	Provider string `yaml:"provider"`

	// Dimensions is the fixed vector size of the deployment.
	// Default: 384
	Dimensions int `yaml:"dimensions"`

	// CacheSize is the number of cached embeddings. 0 disables the cache.
	// Default: 10000
	CacheSize int64 `yaml:"cache_size"`

	// Timeout bounds one provider call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"` // EMBEDDING_API_KEY only

	// Local ONNX model.
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
}

// ChunkingConfig configures document chunking.
type ChunkingConfig struct {
	// Size is the chunk window in characters.
	// Default: 1000
	Size int `yaml:"size"`
}

// AnalysisConfig configures the text classifier.
type AnalysisConfig struct {
	// Provider is claude or static. claude without an API key falls back
	// to static.
	// Default: claude
	Provider string `yaml:"provider"`

	Claude analysis.ClaudeConfig `yaml:"claude"`
	APIKey string                `yaml:"-"` // ANTHROPIC_API_KEY only
}

// ServerConfig configures the network surfaces.
type ServerConfig struct {
	// HTTPAddr serves the REST API, /ws, /metrics and /health.
	// Default: :8080
	HTTPAddr string `yaml:"http_addr"`

	// GRPCAddr serves the gRPC health service. Empty disables it.
	// Default: :9090
	GRPCAddr string `yaml:"grpc_addr"`

	// ContextDocuments is the number of document chunks added to a built
	// context. 0 disables documents in the context.
	// Default: 3
	ContextDocuments int `yaml:"context_documents"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig configures the maintenance jobs.
type SchedulerConfig struct {
	// Enabled runs the jobs inside serve.
	// Default: true
	Enabled bool `yaml:"enabled"`

	scheduler.Config `yaml:",inline"`
}

// WatchConfig configures the ingestion inbox.
type WatchConfig struct {
	// Dir is watched for text and markdown files. Empty disables it.
	Dir string `yaml:"dir"`

	// Debounce coalesces write bursts on one file.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:          "data/nim-recall.db",
			MemoryBackend: BackendSQLite,
		},
		Embedding: EmbeddingConfig{
			Provider:   EmbeddingMock,
			Dimensions: 384,
			CacheSize:  10000,
			Timeout:    10 * time.Second,
			Model:      "text-embedding-3-small",
		},
		Chunking:   ChunkingConfig{Size: document.DefaultChunkSize},
		Search:     engine.DefaultSearchDefaults(),
		Memory:     memory.DefaultConfig(),
		Preference: preference.DefaultConfig(),
		Analysis: AnalysisConfig{
			Provider: AnalysisClaude,
			Claude: analysis.ClaudeConfig{
				Model:     analysis.DefaultModel,
				MaxTokens: 1024,
				Timeout:   30 * time.Second,
			},
		},
		Server: ServerConfig{
			HTTPAddr:         ":8080",
			GRPCAddr:         ":9090",
			ContextDocuments: 3,
			ShutdownTimeout:  10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Config:  scheduler.DefaultConfig(),
		},
		Watch:   WatchConfig{Debounce: 500 * time.Millisecond},
		Logging: logging.Config{Level: "info"},
	}
}

// Load builds the configuration. path names an optional YAML file; an
// empty path skips it. envFiles default to ".env"; missing env files are
// ignored. Variables already in the environment win over env files.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from NIM_* variables and the API key variables.
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"NIM_DB_PATH":            &c.Storage.Path,
		"NIM_MEMORY_BACKEND":     &c.Storage.MemoryBackend,
		"NIM_EMBEDDING_PROVIDER": &c.Embedding.Provider,
		"NIM_EMBEDDING_BASE_URL": &c.Embedding.BaseURL,
		"NIM_EMBEDDING_MODEL":    &c.Embedding.Model,
		"NIM_ONNX_MODEL_PATH":    &c.Embedding.ModelPath,
		"NIM_ONNX_TOKENIZER":     &c.Embedding.TokenizerPath,
		"NIM_ONNX_LIBRARY":       &c.Embedding.LibraryPath,
		"NIM_ANALYSIS_PROVIDER":  &c.Analysis.Provider,
		"NIM_ANALYSIS_MODEL":     &c.Analysis.Claude.Model,
		"NIM_HTTP_ADDR":          &c.Server.HTTPAddr,
		"NIM_GRPC_ADDR":          &c.Server.GRPCAddr,
		"NIM_WATCH_DIR":          &c.Watch.Dir,
		"NIM_LOG_LEVEL":          &c.Logging.Level,
		"NIM_LOG_FORMAT":         &c.Logging.Format,
		"ANTHROPIC_API_KEY":      &c.Analysis.APIKey,
		"EMBEDDING_API_KEY":      &c.Embedding.APIKey,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("NIM_EMBEDDING_DIMENSIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NIM_EMBEDDING_DIMENSIONS: %w", err)
		}
		c.Embedding.Dimensions = n
	}
	if v, ok := os.LookupEnv("NIM_SCHEDULER_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NIM_SCHEDULER_ENABLED: %w", err)
		}
		c.Scheduler.Enabled = b
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	switch c.Storage.MemoryBackend {
	case BackendSQLite, BackendChromem:
	default:
		return fmt.Errorf("unknown memory backend %q", c.Storage.MemoryBackend)
	}

	switch c.Embedding.Provider {
	case EmbeddingMock:
	case EmbeddingOpenAI:
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding model is required for the openai provider")
		}
	case EmbeddingONNX:
		if c.Embedding.ModelPath == "" || c.Embedding.TokenizerPath == "" {
			return fmt.Errorf("onnx provider needs model_path and tokenizer_path")
		}
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.CacheSize < 0 {
		return fmt.Errorf("embedding cache_size must not be negative")
	}

	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search limit must be positive")
	}
	if c.Search.MinSimilarity < -1 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search min_similarity must be within [-1, 1]")
	}

	switch c.Analysis.Provider {
	case AnalysisClaude, AnalysisStatic:
	default:
		return fmt.Errorf("unknown analysis provider %q", c.Analysis.Provider)
	}

	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Preference.Validate(); err != nil {
		return fmt.Errorf("preference: %w", err)
	}
	if err := c.Scheduler.Config.Validate(); err != nil {
		return err
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server http_addr is required")
	}
	return nil
}

// UseClaude reports whether analysis goes to the Anthropic API.
func (c *Config) UseClaude() bool {
	return c.Analysis.Provider == AnalysisClaude && c.Analysis.APIKey != ""
}
