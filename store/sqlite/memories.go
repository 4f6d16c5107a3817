package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
)

var _ memory.Repository = (*Store)(nil)

const memoryColumns = `id, conversation_id, memory_type, priority, content, embedding, context,
	source_message_ids, metadata, created_at, last_accessed, decayed_at, access_count,
	relevance_score, is_active, deactivated_reason, deactivated_at`

// CreateMemory implements memory.Repository.
func (s *Store) CreateMemory(ctx context.Context, m *memory.Memory) error {
	sources, err := encodeJSON(orEmptyIDs(m.SourceMessageIDs))
	if err != nil {
		return fmt.Errorf("encode source message ids: %w", err)
	}
	meta, err := encodeJSON(orEmpty(m.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if m.State == nil {
		m.State = memory.Active{}
	}
	active, reason, at := stateColumns(m.State)

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_memories (conversation_id, memory_type, priority, content, embedding,
			context, source_message_ids, metadata, created_at, last_accessed, decayed_at, access_count,
			relevance_score, is_active, deactivated_reason, deactivated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, string(m.Type), m.Priority.String(), m.Content, encodeVector(m.Embedding),
		m.Context, sources, meta, formatTime(m.CreatedAt), formatTime(m.LastAccessed), formatTime(m.DecayedAt),
		m.AccessCount, m.RelevanceScore, active, reason, at,
	)
	if err != nil {
		return err
	}
	m.ID, err = result.LastInsertId()
	return err
}

// GetMemory implements memory.Repository.
func (s *Store) GetMemory(ctx context.Context, id int64) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM conversation_memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %d: %w", id, core.ErrNotFound)
	}
	return m, err
}

// ActiveMemories implements memory.Repository.
func (s *Store) ActiveMemories(ctx context.Context, f memory.Filter) ([]*memory.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM conversation_memories
		WHERE is_active = 1 AND relevance_score >= ?`
	args := []any{f.MinRelevance}
	if f.ConversationID != 0 {
		query += ` AND conversation_id = ?`
		args = append(args, f.ConversationID)
	}
	if len(f.Types) > 0 {
		query += ` AND memory_type IN (?` + strings.Repeat(", ?", len(f.Types)-1) + `)`
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mems []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		mems = append(mems, m)
	}
	return mems, rows.Err()
}

// UpdateRelevance implements memory.Repository.
func (s *Store) UpdateRelevance(ctx context.Context, id int64, score float64, decayedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversation_memories SET relevance_score = ?, decayed_at = ? WHERE id = ?`,
		score, formatTime(decayedAt), id)
	if err != nil {
		return err
	}
	return requireRow(result, "memory", id)
}

// Deactivate implements memory.Repository.
func (s *Store) Deactivate(ctx context.Context, id int64, d memory.Deactivated) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversation_memories SET is_active = 0, deactivated_reason = ?, deactivated_at = ? WHERE id = ?`,
		string(d.Reason), formatTime(d.At), id)
	if err != nil {
		return err
	}
	return requireRow(result, "memory", id)
}

// TouchAccess implements memory.Repository.
func (s *Store) TouchAccess(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversation_memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(result, "memory", id)
}

func scanMemory(row scanner) (*memory.Memory, error) {
	m := &memory.Memory{}
	var (
		memType, priority, sources, meta   string
		createdAt, lastAccessed, decayedAt string
		reason, deactivatedAt              string
		blob                               []byte
		active                             int
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &memType, &priority, &m.Content, &blob, &m.Context,
		&sources, &meta, &createdAt, &lastAccessed, &decayedAt, &m.AccessCount,
		&m.RelevanceScore, &active, &reason, &deactivatedAt); err != nil {
		return nil, err
	}

	var err error
	if m.Type, err = memory.ParseType(memType); err != nil {
		return nil, fmt.Errorf("memory %d: %w", m.ID, err)
	}
	if m.Priority, err = memory.ParsePriority(priority); err != nil {
		return nil, fmt.Errorf("memory %d: %w", m.ID, err)
	}
	if m.Embedding, err = decodeVector(blob); err != nil {
		return nil, fmt.Errorf("memory %d: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(sources), &m.SourceMessageIDs); err != nil {
		return nil, fmt.Errorf("memory %d source ids: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
		return nil, fmt.Errorf("memory %d metadata: %w", m.ID, err)
	}

	m.CreatedAt = parseTime(createdAt)
	m.LastAccessed = parseTime(lastAccessed)
	m.DecayedAt = parseTime(decayedAt)
	if active == 1 {
		m.State = memory.Active{}
	} else {
		m.State = memory.Deactivated{Reason: memory.Reason(reason), At: parseTime(deactivatedAt)}
	}
	return m, nil
}

// stateColumns flattens a State into the is_active, reason and timestamp
// columns.
func stateColumns(st memory.State) (int, string, string) {
	switch st := st.(type) {
	case memory.Deactivated:
		return 0, string(st.Reason), formatTime(st.At)
	default:
		return 1, "", ""
	}
}

func orEmptyIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
