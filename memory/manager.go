package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/becomeliminal/nim-recall/analysis"
	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/embedding"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/metrics"
	"github.com/becomeliminal/nim-recall/search"
)

// Manager creates, decays and retrieves conversation memories.
type Manager struct {
	repo     Repository
	messages MessageMarker
	analyzer analysis.Analyzer
	gateway  *embedding.Gateway
	search   *search.Engine
	config   Config

	prefs   Preferences // Optional: reweights retrieval by user profile
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures the manager.
type Option func(*Manager)

// WithPreferences enables preference reweighting in RetrieveRelevant.
func WithPreferences(p Preferences) Option {
	return func(m *Manager) {
		m.prefs = p
	}
}

// WithMetrics records memory metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager.
func NewManager(repo Repository, messages MessageMarker, analyzer analysis.Analyzer, gateway *embedding.Gateway, engine *search.Engine, config Config, opts ...Option) *Manager {
	m := &Manager{
		repo:     repo,
		messages: messages,
		analyzer: analyzer,
		gateway:  gateway,
		search:   engine,
		config:   config,
		now:      time.Now,
		logger:   logging.Module("memory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Get returns a memory by id, active or not, without touching it.
func (m *Manager) Get(ctx context.Context, id int64) (*Memory, error) {
	return m.repo.GetMemory(ctx, id)
}

// Process turns msg into a memory when the analyzer finds it important
// enough. It returns nil, nil when no memory is created. The message is
// claimed in the message store before anything else; a caller that loses
// the claim gets nil, nil, so a message yields at most one memory even when
// stale copies of it are processed concurrently.
func (m *Manager) Process(ctx context.Context, msg *core.Message) (*Memory, error) {
	if msg.MemoryProcessed {
		return nil, nil
	}

	claimed, err := m.messages.MarkMemoryProcessed(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("mark message %d processed: %w", msg.ID, err)
	}
	msg.MemoryProcessed = true
	if !claimed {
		m.logger.Debug("[MEMORY] Message already claimed", "message_id", msg.ID)
		return nil, nil
	}

	if strings.TrimSpace(msg.Content) == "" {
		return nil, nil
	}

	a, err := m.analyzer.Analyze(ctx, msg.Content)
	if err != nil {
		m.logger.Warn("[MEMORY] Analysis unavailable, using neutral defaults",
			"message_id", msg.ID,
			"error", err,
		)
		a = analysis.Neutral()
	}
	a.Normalize()

	if a.Importance < m.config.ImportanceThreshold {
		m.metrics.MemorySkipped()
		m.logger.Debug("[MEMORY] Message below importance threshold",
			"message_id", msg.ID,
			"importance", a.Importance,
		)
		return nil, nil
	}

	content := a.Summary
	if content == "" {
		content = msg.Content
	}

	memType := ShortTerm
	if a.Importance > m.config.LongTermThreshold {
		memType = LongTerm
	}

	now := m.now()
	mem := &Memory{
		ConversationID:   msg.ConversationID,
		Type:             memType,
		Priority:         PriorityFor(a.Importance),
		Content:          content,
		Embedding:        m.gateway.Embed(ctx, content).Stored(),
		Context:          msg.Content,
		SourceMessageIDs: []int64{msg.ID},
		Metadata: map[string]any{
			"importance": a.Importance,
			"sentiment":  a.Sentiment,
			"topics":     a.Topics,
			"entities":   a.Entities,
			"user_id":    msg.UserID,
		},
		CreatedAt:      now,
		LastAccessed:   now,
		DecayedAt:      now,
		RelevanceScore: a.Importance,
		State:          Active{},
	}

	if err := m.repo.CreateMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("store memory for message %d: %w", msg.ID, err)
	}

	m.metrics.MemoryCreated(string(mem.Type))
	m.logger.Info("[MEMORY] Memory created",
		"memory_id", mem.ID,
		"conversation_id", mem.ConversationID,
		"type", mem.Type,
		"priority", mem.Priority.String(),
		"embedded", mem.Embedding != nil,
	)
	return mem, nil
}

// DecayReport summarises one Decay pass.
type DecayReport struct {
	Scanned int `json:"scanned"`
	Decayed int `json:"decayed"`
	Expired int `json:"expired"`

	// Exhausted counts memories deactivated because relevance reached 0.
	Exhausted int `json:"exhausted"`
}

// Decay lowers the relevance of every active memory by DecayRate per day
// since the later of its last access and its last decay, and deactivates
// expired SHORT_TERM memories and memories whose relevance reached 0.
//
// A memory that fails to update is logged and skipped; the joined errors
// are returned after the pass.
func (m *Manager) Decay(ctx context.Context) (DecayReport, error) {
	var report DecayReport

	mems, err := m.repo.ActiveMemories(ctx, Filter{})
	if err != nil {
		return report, fmt.Errorf("list active memories: %w", err)
	}
	report.Scanned = len(mems)

	now := m.now()
	var errs []error
	for _, mem := range mems {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if mem.Type == ShortTerm && now.Sub(mem.CreatedAt) > m.config.ShortTermTTL {
			if err := m.deactivate(ctx, mem, ReasonExpired, now); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Expired++
			continue
		}

		ref := mem.LastAccessed
		if mem.DecayedAt.After(ref) {
			ref = mem.DecayedAt
		}
		days := now.Sub(ref).Hours() / 24
		if days <= 0 {
			continue
		}

		score := mem.RelevanceScore - m.config.DecayRate*days
		if score < 0 {
			score = 0
		}
		if score == mem.RelevanceScore {
			continue
		}

		if err := m.repo.UpdateRelevance(ctx, mem.ID, score, now); err != nil {
			m.logger.Error("[MEMORY] Failed to decay memory", "memory_id", mem.ID, "error", err)
			errs = append(errs, fmt.Errorf("decay memory %d: %w", mem.ID, err))
			continue
		}
		mem.RelevanceScore = score
		mem.DecayedAt = now
		report.Decayed++

		if score == 0 {
			if err := m.deactivate(ctx, mem, ReasonDecayed, now); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Exhausted++
		}
	}

	m.metrics.Deactivated(string(ReasonExpired), report.Expired)
	m.metrics.Deactivated(string(ReasonDecayed), report.Exhausted)
	m.logger.Info("[MEMORY] Decay completed",
		"scanned", report.Scanned,
		"decayed", report.Decayed,
		"expired", report.Expired,
		"exhausted", report.Exhausted,
	)
	return report, errors.Join(errs...)
}

func (m *Manager) deactivate(ctx context.Context, mem *Memory, reason Reason, at time.Time) error {
	d := Deactivated{Reason: reason, At: at}
	if err := m.repo.Deactivate(ctx, mem.ID, d); err != nil {
		m.logger.Error("[MEMORY] Failed to deactivate memory", "memory_id", mem.ID, "reason", reason, "error", err)
		return fmt.Errorf("deactivate memory %d: %w", mem.ID, err)
	}
	mem.State = d
	return nil
}

// Query selects memories for RetrieveRelevant.
type Query struct {
	ConversationID int64
	UserID         int64 // 0 disables preference reweighting
	Text           string
	Limit          int // 0 selects Config.DefaultLimit
	Types          []Type
	MinRelevance   float64
}

// Recalled is a retrieved memory with its raw similarity to the query.
type Recalled struct {
	Memory     *Memory
	Similarity float64
}

// RetrieveRelevant returns the active memories of a conversation most
// similar to q.Text, highest priority band first. Within a band, memories
// whose topics match the user's preference profile are lifted; the
// reported Similarity stays the raw cosine. The limit applies after that
// ordering, so a high priority memory is never cut in favour of a lower
// band. Only returned memories are touched.
func (m *Manager) RetrieveRelevant(ctx context.Context, q Query) ([]Recalled, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = m.config.DefaultLimit
	}

	src := &candidateSource{repo: m.repo, filter: Filter{
		ConversationID: q.ConversationID,
		Types:          q.Types,
		MinRelevance:   q.MinRelevance,
	}}
	hits, err := m.search.Search(ctx, q.Text, src, search.Options{
		MinSimilarity: m.config.MinSimilarity,
	})
	if err != nil {
		return nil, err
	}

	weights := m.topicWeights(ctx, q.UserID)

	type ranked struct {
		Recalled
		score float64
	}
	list := make([]ranked, len(hits))
	for i, h := range hits {
		mem := h.Ref.(*Memory)
		list[i] = ranked{
			Recalled: Recalled{Memory: mem, Similarity: h.Similarity},
			score:    h.Similarity + m.config.PreferenceBoost*maxWeight(mem.Topics(), weights),
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Memory.Priority != list[j].Memory.Priority {
			return list[i].Memory.Priority > list[j].Memory.Priority
		}
		return list[i].score > list[j].score
	})
	if len(list) > limit {
		list = list[:limit]
	}

	now := m.now()
	out := make([]Recalled, len(list))
	for i, r := range list {
		if err := m.repo.TouchAccess(ctx, r.Memory.ID, now); err != nil {
			return nil, fmt.Errorf("touch memory %d: %w", r.Memory.ID, err)
		}
		r.Memory.AccessCount++
		r.Memory.LastAccessed = now
		out[i] = r.Recalled
	}

	m.logger.Debug("[MEMORY] Retrieved memories",
		"conversation_id", q.ConversationID,
		"count", len(out),
		"query", truncate(q.Text, 50),
	)
	return out, nil
}

func (m *Manager) topicWeights(ctx context.Context, userID int64) map[string]float64 {
	if m.prefs == nil || userID == 0 {
		return nil
	}
	w, err := m.prefs.TopicWeights(ctx, userID)
	if err != nil {
		m.logger.Warn("[MEMORY] Preference profile unavailable", "user_id", userID, "error", err)
		return nil
	}
	return w
}

func maxWeight(topics []string, weights map[string]float64) float64 {
	var best float64
	for _, t := range topics {
		if w := weights[t]; w > best {
			best = w
		}
	}
	return best
}

// candidateSource exposes active memories to the search engine.
type candidateSource struct {
	repo   Repository
	filter Filter
}

func (s *candidateSource) Name() string { return "memories" }

func (s *candidateSource) Candidates(ctx context.Context) ([]search.Candidate, error) {
	mems, err := s.repo.ActiveMemories(ctx, s.filter)
	if err != nil {
		return nil, err
	}
	out := make([]search.Candidate, len(mems))
	for i, mem := range mems {
		out[i] = search.Candidate{Content: mem.Content, Embedding: mem.Embedding, Ref: mem}
	}
	return out, nil
}
