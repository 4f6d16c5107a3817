package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
)

// ErrInjected is returned for texts matched by FailWhen.
var ErrInjected = errors.New("mock embedder: injected failure")

// Embedder generates deterministic embeddings from a text hash.
// Fixed vectors and injected failures make it usable as a test double.
type Embedder struct {
	dimensions int

	mu       sync.Mutex
	fixed    map[string][]float32
	failWhen func(text string) bool
	calls    int
}

// New creates a mock embedder. dims defaults to 384 (all-MiniLM-L6-v2).
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{
		dimensions: dims,
		fixed:      make(map[string][]float32),
	}
}

// Set pins the vector returned for text.
func (m *Embedder) Set(text string, vec []float32) *Embedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed[text] = vec
	return m
}

// FailWhen makes Embed return ErrInjected for every text matching fn.
func (m *Embedder) FailWhen(fn func(text string) bool) *Embedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWhen = fn
	return m
}

// Calls returns how many times Embed has been invoked.
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls++
	fail := m.failWhen != nil && m.failWhen(text)
	fixed, ok := m.fixed[text]
	m.mu.Unlock()

	if fail {
		return nil, ErrInjected
	}
	if ok {
		out := make([]float32, len(fixed))
		copy(out, fixed)
		return out, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return Normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Normalize scales vec to unit length. Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}
