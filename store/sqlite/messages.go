package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/becomeliminal/nim-recall/core"
)

var _ core.MessageStore = (*Store)(nil)

// SaveMessage implements core.MessageStore.
func (s *Store) SaveMessage(ctx context.Context, msg *core.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Role == "" {
		msg.Role = core.RoleUser
	}

	var id any
	if msg.ID != 0 {
		id = msg.ID
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, created_at, memory_processed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, msg.ConversationID, msg.UserID, string(msg.Role), msg.Content,
		formatTime(msg.CreatedAt), boolInt(msg.MemoryProcessed),
	)
	if err != nil {
		return err
	}
	msg.ID, err = result.LastInsertId()
	return err
}

// GetMessage implements core.MessageStore.
func (s *Store) GetMessage(ctx context.Context, id int64) (*core.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at, memory_processed
		 FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, core.ErrNotFound)
	}
	return msg, err
}

// MarkMemoryProcessed implements core.MessageStore.
func (s *Store) MarkMemoryProcessed(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET memory_processed = 1 WHERE id = ? AND memory_processed = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("message %d: %w", id, core.ErrNotFound)
	}
	return false, err
}

// RecentMessages implements core.MessageStore.
func (s *Store) RecentMessages(ctx context.Context, userID int64, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at, memory_processed
		 FROM messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UnprocessedMessages returns up to limit user messages that have not been
// through memory processing, oldest first.
func (s *Store) UnprocessedMessages(ctx context.Context, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at, memory_processed
		 FROM messages WHERE memory_processed = 0 AND role = ? ORDER BY id ASC LIMIT ?`,
		string(core.RoleUser), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ActiveUsers returns the users with a message at or after since.
func (s *Store) ActiveUsers(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM messages WHERE created_at >= ? ORDER BY user_id ASC`,
		formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanMessage(row scanner) (*core.Message, error) {
	msg := &core.Message{}
	var role, createdAt string
	var processed int
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &role, &msg.Content, &createdAt, &processed); err != nil {
		return nil, err
	}
	msg.Role = core.Role(role)
	msg.CreatedAt = parseTime(createdAt)
	msg.MemoryProcessed = processed == 1
	return msg, nil
}
