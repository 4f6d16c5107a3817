package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/becomeliminal/nim-recall/analysis"
	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/metrics"
)

// Store persists profiles. LoadProfile returns an empty profile for users
// without one.
type Store interface {
	LoadProfile(ctx context.Context, userID int64) (Profile, error)
	SaveProfile(ctx context.Context, userID int64, p Profile) error
}

// History reads the message log.
type History interface {
	// RecentMessages returns up to limit of the user's messages, oldest first.
	RecentMessages(ctx context.Context, userID int64, limit int) ([]*core.Message, error)

	// ActiveUsers lists users with a message at or after since.
	ActiveUsers(ctx context.Context, since time.Time) ([]int64, error)
}

// Config controls learning.
type Config struct {
	// Rate is the EMA weight of new observations.
	// Default: 0.2
	Rate float64 `yaml:"rate"`

	// MaxLabels caps each category.
	// Default: 50
	MaxLabels int `yaml:"max_labels"`

	// HistoryWindow is how many recent messages are analysed.
	// Default: 100
	HistoryWindow int `yaml:"history_window"`

	// TokenBudget bounds the history sent to the analyzer; the oldest
	// messages are dropped first.
	// Default: 6000
	TokenBudget int `yaml:"token_budget"`

	// Encoding is the tiktoken encoding used for the budget.
	// Default: cl100k_base
	Encoding string `yaml:"encoding"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Rate:          DefaultRate,
		MaxLabels:     DefaultMaxLabels,
		HistoryWindow: 100,
		TokenBudget:   6000,
		Encoding:      DefaultEncoding,
	}
}

// Validate rejects settings the learner cannot work with.
func (c Config) Validate() error {
	switch {
	case c.Rate <= 0 || c.Rate > 1:
		return fmt.Errorf("rate must be in (0,1], got %v", c.Rate)
	case c.MaxLabels <= 0:
		return fmt.Errorf("max_labels must be positive, got %d", c.MaxLabels)
	case c.HistoryWindow <= 0:
		return fmt.Errorf("history_window must be positive, got %d", c.HistoryWindow)
	}
	return nil
}

// Learner updates preference profiles from message history.
type Learner struct {
	history  History
	store    Store
	analyzer analysis.Analyzer
	config   Config
	tokens   *tokenCounter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewLearner creates a Learner. It fails when the token encoding cannot be
// loaded.
func NewLearner(history History, store Store, analyzer analysis.Analyzer, cfg Config, m *metrics.Metrics) (*Learner, error) {
	tc, err := newTokenCounter(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	return &Learner{
		history:  history,
		store:    store,
		analyzer: analyzer,
		config:   cfg,
		tokens:   tc,
		metrics:  m,
		logger:   logging.Module("preference"),
	}, nil
}

// Analyze extracts patterns from the user's recent messages. An analyzer
// failure yields empty patterns, not an error.
func (l *Learner) Analyze(ctx context.Context, userID int64) (analysis.Patterns, error) {
	msgs, err := l.history.RecentMessages(ctx, userID, l.config.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history of user %d: %w", userID, err)
	}

	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == core.RoleUser && m.Content != "" {
			texts = append(texts, m.Content)
		}
	}
	texts = l.tokens.fitBudget(texts, l.config.TokenBudget)
	if len(texts) == 0 {
		return analysis.Patterns{}, nil
	}

	patterns, err := l.analyzer.ExtractPatterns(ctx, texts)
	if err != nil {
		l.logger.Warn("[PREFERENCE] Pattern extraction unavailable", "user_id", userID, "error", err)
		l.metrics.PreferenceRun("unavailable")
		return analysis.Patterns{}, nil
	}
	return patterns.Normalize(), nil
}

// Learn analyses the user's history and merges the result into the stored
// profile. Empty patterns leave the profile untouched.
func (l *Learner) Learn(ctx context.Context, userID int64) (Profile, error) {
	patterns, err := l.Analyze(ctx, userID)
	if err != nil {
		l.metrics.PreferenceRun("error")
		return nil, err
	}

	existing, err := l.store.LoadProfile(ctx, userID)
	if err != nil {
		l.metrics.PreferenceRun("error")
		return nil, fmt.Errorf("load profile of user %d: %w", userID, err)
	}
	if patterns.Empty() {
		l.metrics.PreferenceRun("unchanged")
		return existing, nil
	}

	merged := Merge(existing, FromPatterns(patterns), l.config.Rate, l.config.MaxLabels)
	if err := l.store.SaveProfile(ctx, userID, merged); err != nil {
		l.metrics.PreferenceRun("error")
		return nil, fmt.Errorf("save profile of user %d: %w", userID, err)
	}

	l.metrics.PreferenceRun("updated")
	l.logger.Info("[PREFERENCE] Profile updated", "user_id", userID, "categories", len(merged))
	return merged, nil
}

// LearnActive runs Learn for every user active since the given time. A
// failing user does not stop the others; the joined errors are returned.
func (l *Learner) LearnActive(ctx context.Context, since time.Time) (int, error) {
	users, err := l.history.ActiveUsers(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}

	var errs []error
	learned := 0
	for _, id := range users {
		if err := ctx.Err(); err != nil {
			return learned, err
		}
		if _, err := l.Learn(ctx, id); err != nil {
			l.logger.Error("[PREFERENCE] Learning failed", "user_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		learned++
	}
	return learned, errors.Join(errs...)
}

// Profile returns the stored profile of the user.
func (l *Learner) Profile(ctx context.Context, userID int64) (Profile, error) {
	return l.store.LoadProfile(ctx, userID)
}

// TopicWeights returns the user's topic and interest labels, the heavier
// weight winning when a label is in both.
func (l *Learner) TopicWeights(ctx context.Context, userID int64) (map[string]float64, error) {
	p, err := l.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, category := range []string{analysis.CategoryTopics, analysis.CategoryInterests} {
		for label, w := range p[category] {
			if w > out[label] {
				out[label] = w
			}
		}
	}
	return out, nil
}
