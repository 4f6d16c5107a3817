package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/becomeliminal/nim-recall/analysis"
	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/document"
	"github.com/becomeliminal/nim-recall/embedding"
	"github.com/becomeliminal/nim-recall/embedding/mock"
	"github.com/becomeliminal/nim-recall/embedding/openai"
	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/store/chromem"
	"github.com/becomeliminal/nim-recall/metrics"
	"github.com/becomeliminal/nim-recall/preference"
	"github.com/becomeliminal/nim-recall/search"
	"github.com/becomeliminal/nim-recall/store/sqlite"
)

// app holds every wired component of one process.
type app struct {
	config   *config.Config
	registry *prometheus.Registry
	db       *sqlite.Store
	gateway  *embedding.Gateway
	learner  *preference.Learner
	engine   *engine.Engine
	closers  []io.Closer
}

// newApp wires storage, providers and the engine from cfg.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{config: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db)

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.gateway, err = embedding.NewGateway(embedder, embedding.Config{
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		Timeout:    cfg.Embedding.Timeout,
	}, m)
	if err != nil {
		a.Close()
		return nil, err
	}

	analyzer := newAnalyzer(cfg, m)

	a.learner, err = preference.NewLearner(db, db, analyzer, cfg.Preference, m)
	if err != nil {
		a.Close()
		return nil, err
	}

	var repo memory.Repository = db
	if cfg.Storage.MemoryBackend == config.BackendChromem {
		cs, err := chromem.New()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, cs)
		repo = cs
	}

	se := search.NewEngine(a.gateway, m)
	memories := memory.NewManager(repo, db, analyzer, a.gateway, se, cfg.Memory,
		memory.WithPreferences(a.learner),
		memory.WithMetrics(m),
	)
	a.engine = engine.New(db,
		document.NewStore(db, a.gateway, cfg.Chunking.Size, m),
		search.NewDocumentSearcher(se, db),
		memories,
		engine.WithLearner(a.learner),
		engine.WithSearchDefaults(cfg.Search),
		engine.WithContextDocuments(cfg.Server.ContextDocuments),
	)
	return a, nil
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close() error {
	if a.gateway != nil {
		a.gateway.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func (a *app) ping(ctx context.Context) error {
	return a.db.Ping()
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingOpenAI:
		return openai.New(openai.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	case config.EmbeddingONNX:
		return newONNXEmbedder(cfg)
	default:
		return mock.New(cfg.Dimensions), nil
	}
}

func newAnalyzer(cfg *config.Config, m *metrics.Metrics) analysis.Analyzer {
	if !cfg.UseClaude() {
		if cfg.Analysis.Provider == config.AnalysisClaude {
			slog.Warn("[ANALYSIS] ANTHROPIC_API_KEY not set, using keyword analyzer")
		}
		return analysis.NewStatic(nil)
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.Analysis.APIKey))
	return analysis.NewClaude(&client, cfg.Analysis.Claude, m)
}
