package server

import (
	"time"

	"github.com/becomeliminal/nim-recall/document"
	"github.com/becomeliminal/nim-recall/memory"
)

// MemoryView is the wire form of a memory. Embeddings are not exposed.
type MemoryView struct {
	ID               int64          `json:"id"`
	ConversationID   int64          `json:"conversation_id"`
	Type             memory.Type    `json:"memory_type"`
	Priority         string         `json:"priority"`
	Content          string         `json:"content"`
	Context          string         `json:"context,omitempty"`
	SourceMessageIDs []int64        `json:"source_message_ids"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	RelevanceScore   float64        `json:"relevance_score"`
	AccessCount      int            `json:"access_count"`
	Active           bool           `json:"is_active"`
	CreatedAt        time.Time      `json:"created_at"`
	LastAccessed     time.Time      `json:"last_accessed"`
}

// RecalledView is a retrieved memory with its similarity to the query.
type RecalledView struct {
	MemoryView
	Similarity float64 `json:"similarity"`
}

// DocumentView is the wire form of a document.
type DocumentView struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Source    string         `json:"source,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Chunks    []ChunkView    `json:"chunks,omitempty"`
}

// ChunkView is the wire form of a chunk.
type ChunkView struct {
	ID         int64  `json:"id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Embedded   bool   `json:"embedded"`
}

func memoryView(m *memory.Memory) *MemoryView {
	if m == nil {
		return nil
	}
	return &MemoryView{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Type:             m.Type,
		Priority:         m.Priority.String(),
		Content:          m.Content,
		Context:          m.Context,
		SourceMessageIDs: m.SourceMessageIDs,
		Metadata:         m.Metadata,
		RelevanceScore:   m.RelevanceScore,
		AccessCount:      m.AccessCount,
		Active:           m.IsActive(),
		CreatedAt:        m.CreatedAt,
		LastAccessed:     m.LastAccessed,
	}
}

func recalledViews(recalled []memory.Recalled) []RecalledView {
	out := make([]RecalledView, len(recalled))
	for i, r := range recalled {
		out[i] = RecalledView{MemoryView: *memoryView(r.Memory), Similarity: r.Similarity}
	}
	return out
}

func documentView(d *document.Document, withContent bool) DocumentView {
	v := DocumentView{
		ID:        d.ID,
		Title:     d.Title,
		Source:    d.Source,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
	}
	if withContent {
		v.Content = d.Content
	}
	return v
}

func chunkViews(chunks []*document.Chunk) []ChunkView {
	out := make([]ChunkView, len(chunks))
	for i, c := range chunks {
		out[i] = ChunkView{
			ID:         c.ID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Embedded:   c.Embedding != nil,
		}
	}
	return out
}
