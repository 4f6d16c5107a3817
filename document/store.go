package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/embedding"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/metrics"
)

// Store ingests documents: it persists them, chunks them and embeds every
// chunk through the gateway.
type Store struct {
	repo      Repository
	gateway   *embedding.Gateway
	chunkSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewStore creates a Store. chunkSize <= 0 selects DefaultChunkSize.
func NewStore(repo Repository, gateway *embedding.Gateway, chunkSize int, m *metrics.Metrics) *Store {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Store{
		repo:      repo,
		gateway:   gateway,
		chunkSize: chunkSize,
		metrics:   m,
		logger:    logging.Module("document"),
	}
}

// Add stores a document and its chunks and returns the document id.
// Empty content is rejected with core.ErrInvalidInput before any I/O.
// A chunk whose embedding fails is still stored, with a nil embedding.
func (s *Store) Add(ctx context.Context, title, content, source string, metadata map[string]any) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, fmt.Errorf("%w: document content is empty", core.ErrInvalidInput)
	}

	doc := &Document{
		Title:    title,
		Source:   source,
		Content:  content,
		Metadata: metadata,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return 0, fmt.Errorf("create document: %w", err)
	}

	n, err := s.chunk(ctx, doc)
	if err != nil {
		return doc.ID, err
	}

	s.logger.Info("Document ingested",
		"document_id", doc.ID,
		"title", title,
		"chunks", n,
	)
	return doc.ID, nil
}

// Delete removes the document and its chunks. It returns false, without an
// error, when the document does not exist.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.repo.DeleteDocument(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete document %d: %w", id, err)
	}
	if deleted {
		s.logger.Info("Document deleted", "document_id", id)
	}
	return deleted, nil
}

// Update replaces the given fields. A content change discards every chunk
// of the document and chunks the new content from scratch. It returns false
// when the document does not exist.
func (s *Store) Update(ctx context.Context, id int64, u Update) (bool, error) {
	if u.Content != nil && strings.TrimSpace(*u.Content) == "" {
		return false, fmt.Errorf("%w: document content is empty", core.ErrInvalidInput)
	}

	doc, err := s.repo.GetDocument(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get document %d: %w", id, err)
	}

	contentChanged := u.Content != nil && *u.Content != doc.Content
	if u.Title != nil {
		doc.Title = *u.Title
	}
	if u.Content != nil {
		doc.Content = *u.Content
	}
	if u.Metadata != nil {
		doc.Metadata = u.Metadata
	}

	if err := s.repo.UpdateDocument(ctx, doc); err != nil {
		return false, fmt.Errorf("update document %d: %w", id, err)
	}

	if contentChanged {
		if err := s.repo.DeleteChunks(ctx, id); err != nil {
			return false, fmt.Errorf("discard chunks of document %d: %w", id, err)
		}
		n, err := s.chunk(ctx, doc)
		if err != nil {
			return false, err
		}
		s.logger.Info("Document re-chunked", "document_id", id, "chunks", n)
	}

	return true, nil
}

// Get returns the document or core.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Document, error) {
	return s.repo.GetDocument(ctx, id)
}

// List returns every document.
func (s *Store) List(ctx context.Context) ([]*Document, error) {
	return s.repo.ListDocuments(ctx)
}

// Chunks returns the document's chunks in index order.
func (s *Store) Chunks(ctx context.Context, id int64) ([]*Chunk, error) {
	return s.repo.ListChunks(ctx, id)
}

// Backfill computes embeddings for up to limit chunks stored without one.
// It returns how many chunks received an embedding; chunks whose embedding
// fails again stay pending.
func (s *Store) Backfill(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ChunksMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list chunks missing embedding: %w", err)
	}

	filled := 0
	for _, c := range pending {
		res := s.gateway.Embed(ctx, c.Content)
		if res.Degraded {
			continue
		}
		if err := s.repo.SetChunkEmbedding(ctx, c.ID, res.Vector); err != nil {
			return filled, fmt.Errorf("store embedding of chunk %d: %w", c.ID, err)
		}
		filled++
	}

	if len(pending) > 0 {
		s.logger.Info("Chunk embeddings backfilled", "pending", len(pending), "filled", filled)
	}
	return filled, nil
}

// chunk splits doc.Content and persists each window in order. Each chunk is
// committed on its own; an error leaves earlier chunks in place.
func (s *Store) chunk(ctx context.Context, doc *Document) (int, error) {
	windows := Split(doc.Content, s.chunkSize)
	for i, window := range windows {
		res := s.gateway.Embed(ctx, window)
		c := &Chunk{
			DocumentID: doc.ID,
			Content:    window,
			ChunkIndex: i,
			Embedding:  res.Stored(),
		}
		if err := s.repo.CreateChunk(ctx, c); err != nil {
			return i, fmt.Errorf("store chunk %d of document %d: %w", i, doc.ID, err)
		}
		s.metrics.ChunkStored(!res.Degraded)
	}
	return len(windows), nil
}
