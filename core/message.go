package core

import (
	"context"
	"time"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation message as seen by the memory core.
// The chat transport owns message creation; the core only reads them and
// flips MemoryProcessed once memory processing has run.
type Message struct {
	ID             int64
	ConversationID int64
	UserID         int64
	Role           Role
	Content        string
	CreatedAt      time.Time

	// MemoryProcessed guarantees at-most-once memory creation per message.
	MemoryProcessed bool
}

// MessageStore persists conversation messages.
type MessageStore interface {
	// SaveMessage inserts msg and assigns its ID when zero.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage returns ErrNotFound when the message does not exist.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// MarkMemoryProcessed atomically claims the message for memory
	// processing. It reports false when the message was already claimed and
	// ErrNotFound when it does not exist.
	MarkMemoryProcessed(ctx context.Context, id int64) (bool, error)

	// RecentMessages returns up to limit of the user's most recent messages,
	// oldest first.
	RecentMessages(ctx context.Context, userID int64, limit int) ([]*Message, error)
}
