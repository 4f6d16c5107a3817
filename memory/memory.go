package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Type separates memories that expire after the TTL from those that only
// decay.
type Type string

const (
	ShortTerm Type = "short_term"
	LongTerm  Type = "long_term"
)

// ParseType parses a stored or user supplied memory type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case ShortTerm, LongTerm:
		return t, nil
	default:
		return "", fmt.Errorf("unknown memory type %q", s)
	}
}

// Priority is a coarse band derived from importance. Higher sorts first.
type Priority int

const (
	Low Priority = iota + 1
	Medium
	High
	Urgent
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Urgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority is the inverse of Priority.String.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "urgent":
		return Urgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// PriorityFor maps importance onto the four bands.
func PriorityFor(importance float64) Priority {
	switch {
	case importance > 0.9:
		return Urgent
	case importance > 0.7:
		return High
	case importance > 0.4:
		return Medium
	default:
		return Low
	}
}

// State is either Active or Deactivated.
type State interface {
	state()
}

// Active memories take part in decay and retrieval.
type Active struct{}

// Reason says why a memory was deactivated.
type Reason string

const (
	// ReasonExpired marks a SHORT_TERM memory older than the TTL.
	ReasonExpired Reason = "expired"

	// ReasonDecayed marks a memory whose relevance reached 0.
	ReasonDecayed Reason = "decayed"
)

// Deactivated is terminal.
type Deactivated struct {
	Reason Reason
	At     time.Time
}

func (Active) state()      {}
func (Deactivated) state() {}

// Memory is one remembered fact from a conversation.
type Memory struct {
	ID             int64
	ConversationID int64
	Type           Type
	Priority       Priority

	// Content is the analyzer's summary, or the message itself when the
	// summary is empty.
	Content string

	// Embedding of Content. Nil when the gateway was degraded.
	Embedding []float32

	// Context is the raw source message.
	Context          string
	SourceMessageIDs []int64
	Metadata         map[string]any

	CreatedAt    time.Time
	LastAccessed time.Time

	// DecayedAt is when Decay last lowered RelevanceScore.
	DecayedAt time.Time

	AccessCount    int
	RelevanceScore float64
	State          State
}

// IsActive reports whether the memory is still live.
func (m *Memory) IsActive() bool {
	_, ok := m.State.(Active)
	return ok
}

// Topics returns the analyzer topics stored in Metadata.
func (m *Memory) Topics() []string {
	switch v := m.Metadata["topics"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Filter restricts a listing of active memories.
type Filter struct {
	// ConversationID 0 matches every conversation.
	ConversationID int64

	// Types empty matches every type.
	Types []Type

	MinRelevance float64
}

// Match reports whether an active memory passes the filter.
func (f Filter) Match(m *Memory) bool {
	if f.ConversationID != 0 && m.ConversationID != f.ConversationID {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, m.Type) {
		return false
	}
	return m.RelevanceScore >= f.MinRelevance
}

// Repository persists memories. Every method commits on its own.
type Repository interface {
	// CreateMemory inserts m and assigns its ID.
	CreateMemory(ctx context.Context, m *Memory) error

	// GetMemory returns core.ErrNotFound for unknown ids.
	GetMemory(ctx context.Context, id int64) (*Memory, error)

	// ActiveMemories lists active memories matching f in insertion order.
	ActiveMemories(ctx context.Context, f Filter) ([]*Memory, error)

	UpdateRelevance(ctx context.Context, id int64, score float64, decayedAt time.Time) error

	Deactivate(ctx context.Context, id int64, d Deactivated) error

	// TouchAccess increments the access count and sets LastAccessed.
	TouchAccess(ctx context.Context, id int64, at time.Time) error
}

// MessageMarker claims a message for Process. Only the caller that gets
// true may create a memory from it.
type MessageMarker interface {
	MarkMemoryProcessed(ctx context.Context, messageID int64) (bool, error)
}

// Preferences supplies per-user topic weights in [0, 1].
type Preferences interface {
	TopicWeights(ctx context.Context, userID int64) (map[string]float64, error)
}
