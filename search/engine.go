// Package search ranks candidate texts against a query by cosine similarity.
//
// Ranking is a full linear scan over the candidate set; there is no index.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/embedding"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/metrics"
)

// Candidate is one rankable row. Embedding nil means "not yet computed".
type Candidate struct {
	Content   string
	Embedding []float32

	// Ref carries the source row (chunk, memory) back to the caller.
	Ref any
}

// Hit is a ranked candidate.
type Hit struct {
	Candidate
	Similarity float64
}

// Options controls thresholding.
type Options struct {
	Limit int

	// MinSimilarity filters hits below the threshold. 0 disables the filter,
	// so every embedded candidate is ranked, negative cosines included.
	MinSimilarity float64

	// Strict disables the fallback: nothing below MinSimilarity is returned.
	Strict bool
}

// CandidateSource loads the full candidate set for one search.
type CandidateSource interface {
	Name() string
	Candidates(ctx context.Context) ([]Candidate, error)
}

// Engine embeds queries through the gateway and ranks candidates.
type Engine struct {
	gateway *embedding.Gateway
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(gateway *embedding.Gateway, m *metrics.Metrics) *Engine {
	return &Engine{
		gateway: gateway,
		metrics: m,
		logger:  logging.Module("search"),
	}
}

// Search embeds query and ranks the candidates of source.
func (e *Engine) Search(ctx context.Context, query string, source CandidateSource, opts Options) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", core.ErrInvalidInput)
	}

	start := time.Now()
	q := e.gateway.Embed(ctx, query)

	candidates, err := source.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s candidates: %w", source.Name(), err)
	}

	hits, fellBack, err := Rank(q.Vector, candidates, opts)
	if err != nil {
		return nil, err
	}

	outcome := "ranked"
	switch {
	case len(hits) == 0:
		outcome = "empty"
	case fellBack:
		outcome = "fallback"
	}
	e.metrics.Search(source.Name(), outcome, time.Since(start).Seconds())
	e.logger.Debug("Search completed",
		"source", source.Name(),
		"candidates", len(candidates),
		"hits", len(hits),
		"outcome", outcome,
		"query_degraded", q.Degraded,
	)

	return hits, nil
}

// Rank scores candidates against query and applies threshold, ordering,
// limit and fallback. fellBack reports that nothing met MinSimilarity and
// the best-effort list was returned instead.
//
// Ordering is by similarity descending; ties keep scan order. Candidates
// without an embedding never pass the threshold and only appear in the
// fallback, after embedded candidates of equal score.
func Rank(query []float32, candidates []Candidate, opts Options) (hits []Hit, fellBack bool, err error) {
	if len(candidates) == 0 {
		return []Hit{}, false, nil
	}

	embedded := make([]Hit, 0, len(candidates))
	var pending []Hit
	for _, c := range candidates {
		if c.Embedding == nil {
			pending = append(pending, Hit{Candidate: c})
			continue
		}
		if len(c.Embedding) != len(query) {
			return nil, false, fmt.Errorf("%w: candidate has %d dimensions, query has %d",
				core.ErrDimensionMismatch, len(c.Embedding), len(query))
		}
		embedded = append(embedded, Hit{Candidate: c, Similarity: Cosine(query, c.Embedding)})
	}

	sort.SliceStable(embedded, func(i, j int) bool {
		return embedded[i].Similarity > embedded[j].Similarity
	})

	filtered := make([]Hit, 0, len(embedded))
	for _, h := range embedded {
		if opts.MinSimilarity == 0 || h.Similarity >= opts.MinSimilarity {
			filtered = append(filtered, h)
		}
	}

	if len(filtered) == 0 && !opts.Strict {
		all := append(embedded, pending...)
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Similarity > all[j].Similarity
		})
		return truncate(all, opts.Limit), true, nil
	}

	return truncate(filtered, opts.Limit), false, nil
}

func truncate(hits []Hit, limit int) []Hit {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}
