// Package chromem is an in-memory memory.Repository on chromem-go.
//
// Ranking happens in the search engine, so the collection is used as a
// filtered document store: each memory is one chromem document whose
// Content is the JSON record and whose metadata carries the filterable
// fields. Every document shares a constant probe embedding, which makes a
// query return all documents that match the where clause.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

var probe = []float32{1}

// ChromemStore keeps memories in a chromem-go collection.
type ChromemStore struct {
	col    *chromem.Collection
	mu     sync.Mutex
	nextID int64
	logger *slog.Logger
}

// New creates an empty store.
func New() (*ChromemStore, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(
		"conversation_memories",
		nil, // No collection metadata
		nil, // No embedding func (documents carry the probe embedding)
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemStore{
		col:    col,
		logger: logging.Module("memory.chromem"),
	}, nil
}

// CreateMemory implements memory.Repository.
func (s *ChromemStore) CreateMemory(ctx context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	if m.State == nil {
		m.State = memory.Active{}
	}
	if err := s.put(ctx, m); err != nil {
		s.nextID--
		m.ID = 0
		return err
	}

	s.logger.Debug("[CHROMEM] Stored memory", "memory_id", m.ID, "conversation_id", m.ConversationID)
	return nil
}

// GetMemory implements memory.Repository.
func (s *ChromemStore) GetMemory(ctx context.Context, id int64) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, id)
}

// ActiveMemories implements memory.Repository.
func (s *ChromemStore) ActiveMemories(ctx context.Context, f memory.Filter) ([]*memory.Memory, error) {
	where := map[string]string{"active": "true"}
	if f.ConversationID != 0 {
		where["conversation_id"] = strconv.FormatInt(f.ConversationID, 10)
	}

	mems, err := s.query(ctx, where)
	if err != nil {
		return nil, err
	}

	out := mems[:0]
	for _, m := range mems {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateRelevance implements memory.Repository.
func (s *ChromemStore) UpdateRelevance(ctx context.Context, id int64, score float64, decayedAt time.Time) error {
	return s.update(ctx, id, func(m *memory.Memory) {
		m.RelevanceScore = score
		m.DecayedAt = decayedAt
	})
}

// Deactivate implements memory.Repository.
func (s *ChromemStore) Deactivate(ctx context.Context, id int64, d memory.Deactivated) error {
	return s.update(ctx, id, func(m *memory.Memory) {
		m.State = d
	})
}

// TouchAccess implements memory.Repository.
func (s *ChromemStore) TouchAccess(ctx context.Context, id int64, at time.Time) error {
	return s.update(ctx, id, func(m *memory.Memory) {
		m.AccessCount++
		m.LastAccessed = at
	})
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	return nil
}

func (s *ChromemStore) update(ctx context.Context, id int64, fn func(*memory.Memory)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	fn(m)
	return s.put(ctx, m)
}

// put adds or replaces the document for m.
func (s *ChromemStore) put(ctx context.Context, m *memory.Memory) error {
	stored, err := serializeMemory(m)
	if err != nil {
		return fmt.Errorf("serialize memory: %w", err)
	}

	doc := chromem.Document{
		ID:        strconv.FormatInt(m.ID, 10),
		Content:   stored.ContentJSON,
		Embedding: probe,
		Metadata:  stored.Metadata,
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (s *ChromemStore) get(ctx context.Context, id int64) (*memory.Memory, error) {
	mems, err := s.query(ctx, map[string]string{"id": strconv.FormatInt(id, 10)})
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return nil, fmt.Errorf("memory %d: %w", id, core.ErrNotFound)
	}
	return mems[0], nil
}

// query returns every document matching where, ordered by id.
func (s *ChromemStore) query(ctx context.Context, where map[string]string) ([]*memory.Memory, error) {
	// chromem-go requires 0 < nResults <= collection size
	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}

	results, err := s.col.QueryEmbedding(ctx, probe, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	mems := make([]*memory.Memory, 0, len(results))
	for i, result := range results {
		m, err := deserializeMemory(result.Content)
		if err != nil {
			s.logger.Warn("[CHROMEM] Skipping result", "index", i, "error", err)
			continue
		}
		mems = append(mems, m)
	}
	sort.Slice(mems, func(i, j int) bool { return mems[i].ID < mems[j].ID })
	return mems, nil
}

// StoredMemory represents a serialized memory for storage.
type StoredMemory struct {
	ContentJSON string
	Metadata    map[string]string
}

// record is the JSON shape of a memory.
type record struct {
	ID               int64          `json:"id"`
	ConversationID   int64          `json:"conversation_id"`
	Type             memory.Type    `json:"memory_type"`
	Priority         string         `json:"priority"`
	Content          string         `json:"content"`
	Embedding        []float32      `json:"embedding"`
	Context          string         `json:"context,omitempty"`
	SourceMessageIDs []int64        `json:"source_message_ids"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	LastAccessed     time.Time      `json:"last_accessed"`
	DecayedAt        time.Time      `json:"decayed_at"`
	AccessCount      int            `json:"access_count"`
	RelevanceScore   float64        `json:"relevance_score"`
	Active           bool           `json:"is_active"`
	DeactivatedWhy   memory.Reason  `json:"deactivated_reason,omitempty"`
	DeactivatedAt    *time.Time     `json:"deactivated_at,omitempty"`
}

// serializeMemory converts a memory to storage format.
func serializeMemory(m *memory.Memory) (*StoredMemory, error) {
	r := record{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Type:             m.Type,
		Priority:         m.Priority.String(),
		Content:          m.Content,
		Embedding:        m.Embedding,
		Context:          m.Context,
		SourceMessageIDs: m.SourceMessageIDs,
		Metadata:         m.Metadata,
		CreatedAt:        m.CreatedAt,
		LastAccessed:     m.LastAccessed,
		DecayedAt:        m.DecayedAt,
		AccessCount:      m.AccessCount,
		RelevanceScore:   m.RelevanceScore,
	}
	switch st := m.State.(type) {
	case memory.Active:
		r.Active = true
	case memory.Deactivated:
		r.DeactivatedWhy = st.Reason
		at := st.At
		r.DeactivatedAt = &at
	default:
		return nil, fmt.Errorf("memory %d has no state", m.ID)
	}

	contentBytes, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	return &StoredMemory{
		ContentJSON: string(contentBytes),
		Metadata: map[string]string{
			"id":              strconv.FormatInt(m.ID, 10),
			"conversation_id": strconv.FormatInt(m.ConversationID, 10),
			"memory_type":     string(m.Type),
			"active":          strconv.FormatBool(r.Active),
		},
	}, nil
}

// deserializeMemory converts stored format back to a memory.
func deserializeMemory(content string) (*memory.Memory, error) {
	var r record
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	priority, err := memory.ParsePriority(r.Priority)
	if err != nil {
		return nil, err
	}

	m := &memory.Memory{
		ID:               r.ID,
		ConversationID:   r.ConversationID,
		Type:             r.Type,
		Priority:         priority,
		Content:          r.Content,
		Embedding:        r.Embedding,
		Context:          r.Context,
		SourceMessageIDs: r.SourceMessageIDs,
		Metadata:         r.Metadata,
		CreatedAt:        r.CreatedAt,
		LastAccessed:     r.LastAccessed,
		DecayedAt:        r.DecayedAt,
		AccessCount:      r.AccessCount,
		RelevanceScore:   r.RelevanceScore,
		State:            memory.Active{},
	}
	if !r.Active {
		d := memory.Deactivated{Reason: r.DeactivatedWhy}
		if r.DeactivatedAt != nil {
			d.At = *r.DeactivatedAt
		}
		m.State = d
	}
	return m, nil
}
