package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/embedding"
	"github.com/becomeliminal/nim-recall/embedding/mock"
	"github.com/becomeliminal/nim-recall/search"
)

type staticSource []search.Candidate

func (s staticSource) Name() string { return "static" }

func (s staticSource) Candidates(context.Context) ([]search.Candidate, error) {
	return s, nil
}

func newEngine(t *testing.T, emb *mock.Embedder) *search.Engine {
	t.Helper()
	gw, err := embedding.NewGateway(emb, embedding.Config{}, nil)
	require.NoError(t, err)
	return search.NewEngine(gw, nil)
}

func similarities(hits []search.Hit) []float64 {
	out := make([]float64, len(hits))
	for i, h := range hits {
		out[i] = h.Similarity
	}
	return out
}

func TestRank_OrdersAndFilters(t *testing.T) {
	query := []float32{1, 0}
	candidates := []search.Candidate{
		{Content: "low", Embedding: []float32{0, 1}},
		{Content: "high", Embedding: []float32{1, 0}},
		{Content: "mid", Embedding: []float32{1, 1}},
	}

	hits, fellBack, err := search.Rank(query, candidates, search.Options{Limit: 10, MinSimilarity: 0.5})
	require.NoError(t, err)
	assert.False(t, fellBack)
	require.Len(t, hits, 2)
	assert.Equal(t, "high", hits[0].Content)
	assert.Equal(t, "mid", hits[1].Content)
	assert.IsNonIncreasing(t, similarities(hits))
}

func TestRank_TiesKeepScanOrder(t *testing.T) {
	candidates := []search.Candidate{
		{Content: "first", Embedding: []float32{1, 0}},
		{Content: "second", Embedding: []float32{2, 0}},
		{Content: "third", Embedding: []float32{3, 0}},
	}
	hits, _, err := search.Rank([]float32{1, 0}, candidates, search.Options{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "first", hits[0].Content)
	assert.Equal(t, "second", hits[1].Content)
	assert.Equal(t, "third", hits[2].Content)
}

func TestRank_FallbackWhenNothingPasses(t *testing.T) {
	query := []float32{1, 0, 0}
	candidates := []search.Candidate{
		{Content: "a", Embedding: []float32{0.1, 1, 0}},
		{Content: "b", Embedding: []float32{0.2, 1, 0}},
		{Content: "c", Embedding: []float32{0, 1, 0}},
	}

	hits, fellBack, err := search.Rank(query, candidates, search.Options{Limit: 5, MinSimilarity: 0.9})
	require.NoError(t, err)
	assert.True(t, fellBack)
	require.Len(t, hits, 3)
	assert.Equal(t, "b", hits[0].Content)
	assert.Equal(t, "a", hits[1].Content)
	assert.Equal(t, "c", hits[2].Content)
	for _, h := range hits {
		assert.Less(t, h.Similarity, 0.2)
	}
}

func TestRank_StrictReturnsNothingBelowThreshold(t *testing.T) {
	candidates := []search.Candidate{
		{Content: "a", Embedding: []float32{0, 1}},
	}
	hits, fellBack, err := search.Rank([]float32{1, 0}, candidates, search.Options{Limit: 5, MinSimilarity: 0.9, Strict: true})
	require.NoError(t, err)
	assert.False(t, fellBack)
	assert.Empty(t, hits)
}

func TestRank_PendingEmbeddingsOnlyInFallback(t *testing.T) {
	candidates := []search.Candidate{
		{Content: "pending"},
		{Content: "orthogonal", Embedding: []float32{0, 1}},
		{Content: "match", Embedding: []float32{1, 0}},
	}

	hits, fellBack, err := search.Rank([]float32{1, 0}, candidates, search.Options{MinSimilarity: 0.5})
	require.NoError(t, err)
	assert.False(t, fellBack)
	require.Len(t, hits, 1)
	assert.Equal(t, "match", hits[0].Content)

	hits, fellBack, err = search.Rank([]float32{-1, 0}, candidates, search.Options{MinSimilarity: 0.5})
	require.NoError(t, err)
	assert.True(t, fellBack)
	require.Len(t, hits, 3)
	// orthogonal and pending both score 0; the embedded row comes first
	assert.Equal(t, "orthogonal", hits[0].Content)
	assert.Equal(t, "pending", hits[1].Content)
	assert.Equal(t, "match", hits[2].Content)
}

func TestRank_ZeroThresholdKeepsEverything(t *testing.T) {
	candidates := []search.Candidate{
		{Content: "opposite", Embedding: []float32{-1, 0}},
		{Content: "pending"},
		{Content: "match", Embedding: []float32{1, 0}},
	}

	hits, fellBack, err := search.Rank([]float32{1, 0}, candidates, search.Options{Strict: true})
	require.NoError(t, err)
	assert.False(t, fellBack)
	require.Len(t, hits, 2)
	assert.Equal(t, "match", hits[0].Content)
	assert.Equal(t, "opposite", hits[1].Content)
	assert.InDelta(t, -1, hits[1].Similarity, 1e-9)
}

func TestRank_LimitTruncates(t *testing.T) {
	var candidates []search.Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, search.Candidate{Embedding: []float32{1, float32(i)}})
	}
	hits, _, err := search.Rank([]float32{1, 0}, candidates, search.Options{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestRank_DimensionMismatch(t *testing.T) {
	candidates := []search.Candidate{{Embedding: []float32{1, 0, 0}}}
	_, _, err := search.Rank([]float32{1, 0}, candidates, search.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))
}

func TestRank_EmptyCandidates(t *testing.T) {
	hits, fellBack, err := search.Rank([]float32{1, 0}, nil, search.Options{Limit: 5})
	require.NoError(t, err)
	assert.False(t, fellBack)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestEngine_EmptyQueryIsInvalid(t *testing.T) {
	eng := newEngine(t, mock.New(2))
	_, err := eng.Search(context.Background(), "   ", staticSource{}, search.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestEngine_NoCandidatesIsEmptyNotError(t *testing.T) {
	eng := newEngine(t, mock.New(2))
	hits, err := eng.Search(context.Background(), "anything", staticSource{}, search.Options{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEngine_ProviderDownStillRanks(t *testing.T) {
	emb := mock.New(2).FailWhen(func(string) bool { return true })
	eng := newEngine(t, emb)
	src := staticSource{
		{Content: "a", Embedding: []float32{1, 0}},
		{Content: "b", Embedding: []float32{0, 1}},
	}

	hits, err := eng.Search(context.Background(), "x", src, search.Options{Limit: 5, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Zero(t, h.Similarity)
	}
}
