package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/document"
)

var _ document.Repository = (*Store)(nil)

// CreateDocument implements document.Repository.
func (s *Store) CreateDocument(ctx context.Context, doc *document.Document) error {
	meta, err := encodeJSON(orEmpty(doc.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (title, source, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.Title, doc.Source, doc.Content, meta, formatTime(doc.CreatedAt),
	)
	if err != nil {
		return err
	}
	doc.ID, err = result.LastInsertId()
	return err
}

// GetDocument implements document.Repository.
func (s *Store) GetDocument(ctx context.Context, id int64) (*document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, content, metadata, created_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, core.ErrNotFound)
	}
	return doc, err
}

// UpdateDocument implements document.Repository.
func (s *Store) UpdateDocument(ctx context.Context, doc *document.Document) error {
	meta, err := encodeJSON(orEmpty(doc.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, source = ?, content = ?, metadata = ? WHERE id = ?`,
		doc.Title, doc.Source, doc.Content, meta, doc.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, "document", doc.ID)
}

// DeleteDocument implements document.Repository.
func (s *Store) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDocuments implements document.Repository.
func (s *Store) ListDocuments(ctx context.Context) ([]*document.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, source, content, metadata, created_at FROM documents ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CreateChunk implements document.Repository.
func (s *Store) CreateChunk(ctx context.Context, c *document.Chunk) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO document_chunks (document_id, content, chunk_index, embedding) VALUES (?, ?, ?, ?)`,
		c.DocumentID, c.Content, c.ChunkIndex, encodeVector(c.Embedding),
	)
	if err != nil {
		return err
	}
	c.ID, err = result.LastInsertId()
	return err
}

// DeleteChunks implements document.Repository.
func (s *Store) DeleteChunks(ctx context.Context, documentID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	return err
}

// ListChunks implements document.Repository.
func (s *Store) ListChunks(ctx context.Context, documentID int64) ([]*document.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, chunk_index, embedding FROM document_chunks
		 WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// SearchableChunks implements document.Repository.
func (s *Store) SearchableChunks(ctx context.Context) ([]*document.ChunkView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.content, c.chunk_index, c.embedding, d.title, d.source
		 FROM document_chunks c JOIN documents d ON d.id = c.document_id
		 ORDER BY c.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []*document.ChunkView
	for rows.Next() {
		v := &document.ChunkView{}
		var blob []byte
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.Content, &v.ChunkIndex, &blob, &v.Title, &v.Source); err != nil {
			return nil, err
		}
		if v.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", v.ID, err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// ChunksMissingEmbedding implements document.Repository.
func (s *Store) ChunksMissingEmbedding(ctx context.Context, limit int) ([]*document.Chunk, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, chunk_index, embedding FROM document_chunks
		 WHERE embedding IS NULL ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// SetChunkEmbedding implements document.Repository.
func (s *Store) SetChunkEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE document_chunks SET embedding = ? WHERE id = ?`, encodeVector(embedding), chunkID)
	if err != nil {
		return err
	}
	return requireRow(result, "chunk", chunkID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*document.Document, error) {
	doc := &document.Document{}
	var meta, createdAt string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Source, &doc.Content, &meta, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("document %d metadata: %w", doc.ID, err)
	}
	doc.CreatedAt = parseTime(createdAt)
	return doc, nil
}

func scanChunks(rows *sql.Rows) ([]*document.Chunk, error) {
	var chunks []*document.Chunk
	for rows.Next() {
		c := &document.Chunk{}
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &blob); err != nil {
			return nil, err
		}
		var err error
		if c.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func requireRow(result sql.Result, kind string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
