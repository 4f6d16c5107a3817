package search

import (
	"context"

	"github.com/becomeliminal/nim-recall/document"
)

// DocumentResult is one ranked chunk with the document fields a caller
// needs to cite it.
type DocumentResult struct {
	DocumentID int64   `json:"document_id"`
	ChunkID    int64   `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	Title      string  `json:"title"`
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// ChunkLister is the part of document.Repository document search reads.
type ChunkLister interface {
	SearchableChunks(ctx context.Context) ([]*document.ChunkView, error)
}

// DocumentSource exposes every stored chunk as a search candidate.
type DocumentSource struct {
	chunks ChunkLister
}

// NewDocumentSource wraps a chunk repository.
func NewDocumentSource(chunks ChunkLister) *DocumentSource {
	return &DocumentSource{chunks: chunks}
}

// Name implements CandidateSource.
func (s *DocumentSource) Name() string { return "documents" }

// Candidates implements CandidateSource.
func (s *DocumentSource) Candidates(ctx context.Context) ([]Candidate, error) {
	views, err := s.chunks.SearchableChunks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(views))
	for i, v := range views {
		out[i] = Candidate{Content: v.Content, Embedding: v.Embedding, Ref: v}
	}
	return out, nil
}

// DocumentSearcher answers semantic queries over the document corpus.
type DocumentSearcher struct {
	engine *Engine
	source *DocumentSource
}

// NewDocumentSearcher creates a DocumentSearcher.
func NewDocumentSearcher(engine *Engine, chunks ChunkLister) *DocumentSearcher {
	return &DocumentSearcher{engine: engine, source: NewDocumentSource(chunks)}
}

// Search returns up to limit chunks ordered by similarity to query.
// With strict unset, a query that matches nothing above minSimilarity
// still returns the best limit chunks.
func (s *DocumentSearcher) Search(ctx context.Context, query string, limit int, minSimilarity float64, strict bool) ([]DocumentResult, error) {
	hits, err := s.engine.Search(ctx, query, s.source, Options{
		Limit:         limit,
		MinSimilarity: minSimilarity,
		Strict:        strict,
	})
	if err != nil {
		return nil, err
	}

	results := make([]DocumentResult, 0, len(hits))
	for _, h := range hits {
		v := h.Ref.(*document.ChunkView)
		results = append(results, DocumentResult{
			DocumentID: v.DocumentID,
			ChunkID:    v.ID,
			ChunkIndex: v.ChunkIndex,
			Title:      v.Title,
			Source:     v.Source,
			Content:    v.Content,
			Similarity: h.Similarity,
		})
	}
	return results, nil
}
