package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/metrics"
)

// Config configures the Gateway.
type Config struct {
	// Dimensions is the fixed vector size for this deployment. Zero means
	// "use the embedder's Dimensions()".
	Dimensions int

	// CacheSize is the number of embeddings kept in memory. Zero disables
	// caching.
	CacheSize int64

	// Timeout bounds a single provider call. Zero means no extra bound.
	Timeout time.Duration
}

// Gateway wraps an Embedder with the degrade-don't-crash policy, a cache
// and metrics.
type Gateway struct {
	embedder   Embedder
	dimensions int
	timeout    time.Duration
	cache      *ristretto.Cache
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewGateway creates a Gateway. It fails only on configuration errors.
func NewGateway(embedder Embedder, cfg Config, m *metrics.Metrics) (*Gateway, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = embedder.Dimensions()
	}
	if dims <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", dims)
	}
	if ed := embedder.Dimensions(); ed > 0 && ed != dims {
		return nil, fmt.Errorf("%w: embedder produces %d, configured %d", core.ErrDimensionMismatch, ed, dims)
	}

	g := &Gateway{
		embedder:   embedder,
		dimensions: dims,
		timeout:    cfg.Timeout,
		metrics:    m,
		logger:     logging.Module("embedding"),
	}

	if cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: cfg.CacheSize * 10,
			MaxCost:     cfg.CacheSize,
			BufferItems: 64,
			// every entry costs 1, so MaxCost is an entry count
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		g.cache = cache
	}

	return g, nil
}

// Dimensions returns the deployment's fixed embedding dimensionality.
func (g *Gateway) Dimensions() int {
	return g.dimensions
}

// Embed returns the embedding for text. It never fails: provider errors and
// malformed vectors degrade to a zero vector with Degraded set. The returned
// vector is owned by the caller; cached entries are copied in and out.
func (g *Gateway) Embed(ctx context.Context, text string) Result {
	key := cacheKey(text)
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			g.metrics.EmbedResult("cached")
			return Result{Vector: slices.Clone(v.([]float32))}
		}
	}

	vec, err := g.call(ctx, text)
	if err != nil {
		g.logger.Warn("[EMBED] Provider failed, using zero vector",
			"error", err,
			"text_len", len(text),
		)
		g.metrics.EmbedResult("degraded")
		return Result{Vector: make([]float32, g.dimensions), Degraded: true}
	}

	if g.cache != nil {
		g.cache.Set(key, slices.Clone(vec), 1)
	}
	g.metrics.EmbedResult("ok")
	return Result{Vector: vec}
}

// call invokes the provider and validates the shape of its answer.
func (g *Gateway) call(ctx context.Context, text string) ([]float32, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := g.embedder.Embed(ctx, text)
	g.metrics.ObserveEmbed(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Join(core.ErrEmbeddingUnavailable, err)
	}
	if len(vec) != g.dimensions {
		return nil, fmt.Errorf("%w: provider returned %d dimensions, expected %d",
			core.ErrEmbeddingUnavailable, len(vec), g.dimensions)
	}
	return vec, nil
}

// Close releases the cache.
func (g *Gateway) Close() {
	if g.cache != nil {
		g.cache.Close()
	}
}

func cacheKey(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	return h.Sum64()
}
