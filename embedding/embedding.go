// Package embedding is the single point of contact with the embedding model.
//
// Everything else in the module goes through Gateway, which never returns a
// provider error: a failed call degrades to a zero vector of the deployment's
// fixed dimensionality. A zero vector has cosine similarity 0 with everything,
// so a failed embedding can never win a ranking.
//
// Implementations of Embedder:
//   - mock: deterministic hash-based vectors (tests, offline mode)
//   - openai: OpenAI-compatible /v1/embeddings endpoint
//   - onnx: local all-MiniLM-L6-v2 (build tag "onnx")
package embedding

import "context"

// Embedder converts text to embedding vectors.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Result is the outcome of a gateway call.
type Result struct {
	Vector []float32

	// Degraded is set when the provider failed and Vector is the zero vector.
	Degraded bool
}

// Stored returns the vector to persist: nil ("not yet computed") for a
// degraded result so that backfill can pick the row up later.
func (r Result) Stored() []float32 {
	if r.Degraded {
		return nil
	}
	return r.Vector
}
