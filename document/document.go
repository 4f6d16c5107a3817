// Package document stores ingested knowledge and splits it into chunks,
// the atomic unit of retrieval.
package document

import (
	"context"
	"time"
)

// Document is an ingested piece of knowledge. Deleting it deletes its chunks.
type Document struct {
	ID        int64
	Title     string
	Source    string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Chunk is a contiguous window of a document's content. ChunkIndex values
// of one document are 0..n-1 in insertion order. A nil Embedding means the
// vector has not been computed yet.
type Chunk struct {
	ID         int64
	DocumentID int64
	Content    string
	ChunkIndex int
	Embedding  []float32
}

// ChunkView is a chunk joined with the fields of its document that search
// results need.
type ChunkView struct {
	Chunk
	Title  string
	Source string
}

// Update lists the fields to replace. Nil fields are left unchanged.
type Update struct {
	Title    *string
	Content  *string
	Metadata map[string]any
}

// Repository persists documents and chunks. Every method commits on its own.
type Repository interface {
	// CreateDocument inserts doc and assigns ID and CreatedAt.
	CreateDocument(ctx context.Context, doc *Document) error

	// GetDocument returns core.ErrNotFound for unknown ids.
	GetDocument(ctx context.Context, id int64) (*Document, error)

	UpdateDocument(ctx context.Context, doc *Document) error

	// DeleteDocument removes the document's chunks, then the document.
	// It reports false when the document did not exist.
	DeleteDocument(ctx context.Context, id int64) (bool, error)

	ListDocuments(ctx context.Context) ([]*Document, error)

	// CreateChunk inserts chunk and assigns its ID.
	CreateChunk(ctx context.Context, chunk *Chunk) error

	DeleteChunks(ctx context.Context, documentID int64) error

	// ListChunks returns a document's chunks ordered by ChunkIndex.
	ListChunks(ctx context.Context, documentID int64) ([]*Chunk, error)

	// SearchableChunks returns every chunk in insertion order.
	SearchableChunks(ctx context.Context) ([]*ChunkView, error)

	// ChunksMissingEmbedding returns up to limit chunks with a nil embedding.
	ChunksMissingEmbedding(ctx context.Context, limit int) ([]*Chunk, error)

	SetChunkEmbedding(ctx context.Context, chunkID int64, embedding []float32) error
}
