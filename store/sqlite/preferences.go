package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/becomeliminal/nim-recall/preference"
)

var _ preference.Store = (*Store)(nil)

// LoadProfile implements preference.Store.
func (s *Store) LoadProfile(ctx context.Context, userID int64) (preference.Profile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT preferences FROM user_preferences WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return preference.Profile{}, nil
	}
	if err != nil {
		return nil, err
	}

	p := preference.Profile{}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode preferences of user %d: %w", userID, err)
	}
	return p, nil
}

// SaveProfile implements preference.Store.
func (s *Store) SaveProfile(ctx context.Context, userID int64, p preference.Profile) error {
	raw, err := encodeJSON(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, preferences, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`,
		userID, raw, formatTime(time.Now()))
	return err
}
