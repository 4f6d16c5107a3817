package memory

import (
	"fmt"
	"time"
)

// Config holds Manager configuration.
type Config struct {
	// ImportanceThreshold is the minimum analyzer importance for a message
	// to become a memory.
	// Default: 0.3
	ImportanceThreshold float64 `yaml:"importance_threshold"`

	// LongTermThreshold: importance above it makes a LONG_TERM memory.
	// Default: 0.7
	LongTermThreshold float64 `yaml:"long_term_threshold"`

	// DecayRate is the relevance lost per day without access.
	// Default: 0.1
	DecayRate float64 `yaml:"decay_rate"`

	// ShortTermTTL is the age after which SHORT_TERM memories are deactivated.
	// Default: 24h
	ShortTermTTL time.Duration `yaml:"short_term_ttl"`

	// MinSimilarity is the retrieval threshold [0.0-1.0]. Retrieval falls back
	// to the best matches when nothing reaches it.
	// Default: 0.5
	// Note: Tiny models (all-MiniLM-L6-v2) produce lower scores (~0.35 for similar text)
	MinSimilarity float64 `yaml:"min_similarity"`

	// DefaultLimit applies when a query does not set one.
	// Default: 5
	DefaultLimit int `yaml:"default_limit"`

	// PreferenceBoost scales how much a matching profile topic lifts a memory
	// within its priority band.
	// Default: 0.2
	PreferenceBoost float64 `yaml:"preference_boost"`

	// FormatBudget is the character budget of Format.
	// Default: 2000
	FormatBudget int `yaml:"format_budget"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ImportanceThreshold: 0.3,
		LongTermThreshold:   0.7,
		DecayRate:           0.1,
		ShortTermTTL:        24 * time.Hour,
		MinSimilarity:       0.5,
		DefaultLimit:        5,
		PreferenceBoost:     0.2,
		FormatBudget:        2000,
	}
}

// Validate rejects settings the manager cannot work with.
func (c Config) Validate() error {
	switch {
	case c.ImportanceThreshold < 0 || c.ImportanceThreshold > 1:
		return fmt.Errorf("importance_threshold must be in [0,1], got %v", c.ImportanceThreshold)
	case c.LongTermThreshold < 0 || c.LongTermThreshold > 1:
		return fmt.Errorf("long_term_threshold must be in [0,1], got %v", c.LongTermThreshold)
	case c.DecayRate < 0:
		return fmt.Errorf("decay_rate must not be negative, got %v", c.DecayRate)
	case c.ShortTermTTL <= 0:
		return fmt.Errorf("short_term_ttl must be positive, got %v", c.ShortTermTTL)
	case c.MinSimilarity < -1 || c.MinSimilarity > 1:
		return fmt.Errorf("min_similarity must be in [-1,1], got %v", c.MinSimilarity)
	case c.DefaultLimit <= 0:
		return fmt.Errorf("default_limit must be positive, got %d", c.DefaultLimit)
	case c.PreferenceBoost < 0:
		return fmt.Errorf("preference_boost must not be negative, got %v", c.PreferenceBoost)
	}
	return nil
}
