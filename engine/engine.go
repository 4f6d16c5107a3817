// Package engine is the surface the chat layer talks to. It wires the
// document store, similarity search, the conversational memory manager and
// the preference learner behind a handful of calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/document"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/preference"
	"github.com/becomeliminal/nim-recall/search"
)

// PendingMessages is implemented by message stores that can list messages
// memory processing has not seen yet.
type PendingMessages interface {
	UnprocessedMessages(ctx context.Context, limit int) ([]*core.Message, error)
}

// DefaultSimilarity, passed as minSimilarity, selects the configured
// threshold. Every value in [-1, 1] is used as given; 0 ranks everything.
const DefaultSimilarity = -2.0

// SearchDefaults apply when a caller leaves limit or threshold unset.
type SearchDefaults struct {
	// Limit is the number of chunks returned.
	// Default: 5
	Limit int `yaml:"limit"`

	// MinSimilarity is the cosine threshold below which chunks are dropped
	// (or, in non-strict mode, used only as a fallback).
	// Default: 0.5
	MinSimilarity float64 `yaml:"min_similarity"`
}

// DefaultSearchDefaults returns the document search defaults.
func DefaultSearchDefaults() SearchDefaults {
	return SearchDefaults{Limit: 5, MinSimilarity: 0.5}
}

// Engine orchestrates message handling and the two query entry points.
type Engine struct {
	messages  core.MessageStore
	documents *document.Store
	searcher  *search.DocumentSearcher
	memories  *memory.Manager
	learner   *preference.Learner // Optional: preference profiles

	defaults    SearchDefaults
	contextDocs int // documents added by BuildContext, 0 disables
	logger      *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLearner exposes preference profiles through the engine.
func WithLearner(l *preference.Learner) Option {
	return func(e *Engine) {
		e.learner = l
	}
}

// WithSearchDefaults overrides the document search defaults.
func WithSearchDefaults(d SearchDefaults) Option {
	return func(e *Engine) {
		e.defaults = d
	}
}

// WithContextDocuments makes BuildContext append up to n document chunks
// after the memories.
func WithContextDocuments(n int) Option {
	return func(e *Engine) {
		e.contextDocs = n
	}
}

// New creates an engine.
func New(messages core.MessageStore, documents *document.Store, searcher *search.DocumentSearcher, memories *memory.Manager, opts ...Option) *Engine {
	e := &Engine{
		messages:  messages,
		documents: documents,
		searcher:  searcher,
		memories:  memories,
		defaults:  DefaultSearchDefaults(),
		logger:    logging.Module("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Documents returns the document store.
func (e *Engine) Documents() *document.Store {
	return e.documents
}

// Memories returns the memory manager.
func (e *Engine) Memories() *memory.Manager {
	return e.memories
}

// Learner returns the preference learner, or nil when none is configured.
func (e *Engine) Learner() *preference.Learner {
	return e.learner
}

// HandleMessage persists msg and runs memory processing on it. Only user
// messages are processed; assistant messages are stored and return nil.
// It returns the created memory, or nil when the message was not worth
// remembering.
func (e *Engine) HandleMessage(ctx context.Context, msg *core.Message) (*memory.Memory, error) {
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("%w: message content is empty", core.ErrInvalidInput)
	}
	if msg.ConversationID == 0 {
		return nil, fmt.Errorf("%w: conversation id is required", core.ErrInvalidInput)
	}

	if err := e.messages.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	if msg.Role != core.RoleUser {
		return nil, nil
	}
	return e.memories.Process(ctx, msg)
}

// ProcessPending runs memory processing for up to limit stored user
// messages that have not been processed yet, oldest first. It returns the
// number of memories created. Stores that cannot list pending messages
// make it a no-op.
func (e *Engine) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, ok := e.messages.(PendingMessages)
	if !ok {
		return 0, nil
	}

	msgs, err := pending.UnprocessedMessages(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed messages: %w", err)
	}

	created := 0
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		mem, err := e.memories.Process(ctx, msg)
		if err != nil {
			return created, err
		}
		if mem != nil {
			created++
		}
	}
	if len(msgs) > 0 {
		e.logger.Info("Processed pending messages", "messages", len(msgs), "memories", created)
	}
	return created, nil
}

// SearchDocuments returns the chunks most similar to query. When nothing
// clears minSimilarity the best chunks are returned anyway. A limit <= 0
// or a minSimilarity of DefaultSimilarity selects the configured defaults.
func (e *Engine) SearchDocuments(ctx context.Context, query string, limit int, minSimilarity float64) ([]search.DocumentResult, error) {
	limit, minSimilarity = e.withDefaults(limit, minSimilarity)
	return e.searcher.Search(ctx, query, limit, minSimilarity, false)
}

// SearchDocumentsStrict is SearchDocuments without the fallback: chunks
// below minSimilarity are never returned.
func (e *Engine) SearchDocumentsStrict(ctx context.Context, query string, limit int, minSimilarity float64) ([]search.DocumentResult, error) {
	limit, minSimilarity = e.withDefaults(limit, minSimilarity)
	return e.searcher.Search(ctx, query, limit, minSimilarity, true)
}

// RetrieveRelevantMemories returns the conversation's active memories most
// relevant to query.
func (e *Engine) RetrieveRelevantMemories(ctx context.Context, conversationID int64, query string, limit int) ([]memory.Recalled, error) {
	return e.memories.RetrieveRelevant(ctx, memory.Query{
		ConversationID: conversationID,
		Text:           query,
		Limit:          limit,
	})
}

// RetrieveForUser is RetrieveRelevantMemories with the user's preference
// profile lifting memories on topics they care about.
func (e *Engine) RetrieveForUser(ctx context.Context, q memory.Query) ([]memory.Recalled, error) {
	return e.memories.RetrieveRelevant(ctx, q)
}

// BuildContext returns the memory-augmented context block for msg, ready
// to be placed in a prompt. It returns "" when nothing relevant is stored.
func (e *Engine) BuildContext(ctx context.Context, msg *core.Message) (string, error) {
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", nil
	}

	recalled, err := e.memories.RetrieveRelevant(ctx, memory.Query{
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Text:           msg.Content,
	})
	if err != nil {
		return "", fmt.Errorf("retrieve memories: %w", err)
	}

	var parts []string
	if block := memory.Format(recalled, msg.Content, e.memories.Config().FormatBudget); block != "" {
		parts = append(parts, block)
	}

	if e.contextDocs > 0 {
		docs, err := e.SearchDocumentsStrict(ctx, msg.Content, e.contextDocs, DefaultSimilarity)
		if err != nil {
			return "", fmt.Errorf("search documents: %w", err)
		}
		if block := formatDocuments(docs); block != "" {
			parts = append(parts, block)
		}
	}

	return strings.Join(parts, "\n"), nil
}

func (e *Engine) withDefaults(limit int, minSimilarity float64) (int, float64) {
	if limit <= 0 {
		limit = e.defaults.Limit
	}
	if minSimilarity < -1 {
		minSimilarity = e.defaults.MinSimilarity
	}
	return limit, minSimilarity
}

func formatDocuments(docs []search.DocumentResult) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("=== RELEVANT DOCUMENTS ===\n\n")
	for i, d := range docs {
		title := d.Title
		if title == "" {
			title = d.Source
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, title, strings.TrimSpace(d.Content))
	}
	return b.String()
}
