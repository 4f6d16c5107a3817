package memory_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/analysis"
	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/embedding"
	"github.com/becomeliminal/nim-recall/embedding/mock"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/store/chromem"
	"github.com/becomeliminal/nim-recall/search"
)

// scriptedAnalyzer returns a fixed analysis per message text.
type scriptedAnalyzer struct {
	results map[string]analysis.Analysis
	fail    bool
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, text string) (analysis.Analysis, error) {
	if a.fail {
		return analysis.Analysis{}, core.ErrClassificationUnavailable
	}
	return a.results[text], nil
}

func (a *scriptedAnalyzer) ExtractPatterns(context.Context, []string) (analysis.Patterns, error) {
	return analysis.Patterns{}, nil
}

type markRecorder struct {
	mu     sync.Mutex
	marked []int64
}

func (r *markRecorder) MarkMemoryProcessed(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.marked {
		if m == id {
			return false, nil
		}
	}
	r.marked = append(r.marked, id)
	return true, nil
}

type staticPreferences map[string]float64

func (p staticPreferences) TopicWeights(context.Context, int64) (map[string]float64, error) {
	return p, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	repo     *chromem.ChromemStore
	marks    *markRecorder
	analyzer *scriptedAnalyzer
	emb      *mock.Embedder
	clock    *clock
	manager  *memory.Manager
}

func newFixture(t *testing.T, cfg memory.Config, opts ...memory.Option) *fixture {
	t.Helper()

	repo, err := chromem.New()
	require.NoError(t, err)

	emb := mock.New(3)
	gw, err := embedding.NewGateway(emb, embedding.Config{}, nil)
	require.NoError(t, err)

	f := &fixture{
		repo:     repo,
		marks:    &markRecorder{},
		analyzer: &scriptedAnalyzer{results: map[string]analysis.Analysis{}},
		emb:      emb,
		clock:    &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts = append([]memory.Option{memory.WithClock(f.clock.now)}, opts...)
	f.manager = memory.NewManager(repo, f.marks, f.analyzer, gw, search.NewEngine(gw, nil), cfg, opts...)
	return f
}

// remember processes text as message id with the given importance and
// embedding of its summary.
func (f *fixture) remember(t *testing.T, id int64, text string, importance float64, vec []float32, topics ...string) *memory.Memory {
	t.Helper()
	summary := "summary of " + text
	f.analyzer.results[text] = analysis.Analysis{Importance: importance, Summary: summary, Topics: topics}
	f.emb.Set(summary, vec)

	mem, err := f.manager.Process(context.Background(), &core.Message{ID: id, ConversationID: 1, UserID: 7, Content: text})
	require.NoError(t, err)
	require.NotNil(t, mem)
	return mem
}

func TestProcess_UrgentLongTerm(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	f.analyzer.results["my order is broken"] = analysis.Analysis{
		Importance: 0.95,
		Summary:    "User's order arrived broken",
		Sentiment:  "negative",
		Topics:     []string{"orders"},
	}

	msg := &core.Message{ID: 10, ConversationID: 3, Content: "my order is broken"}
	mem, err := f.manager.Process(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, mem)

	assert.Equal(t, memory.LongTerm, mem.Type)
	assert.Equal(t, memory.Urgent, mem.Priority)
	assert.Equal(t, "User's order arrived broken", mem.Content)
	assert.Equal(t, "my order is broken", mem.Context)
	assert.Equal(t, []int64{10}, mem.SourceMessageIDs)
	assert.Equal(t, 0.95, mem.RelevanceScore)
	assert.Len(t, mem.Embedding, 3)
	assert.True(t, mem.IsActive())
	assert.True(t, msg.MemoryProcessed)
	assert.Equal(t, []int64{10}, f.marks.marked)

	stored, err := f.repo.GetMemory(context.Background(), mem.ID)
	require.NoError(t, err)
	assert.Equal(t, mem.Content, stored.Content)
	assert.Equal(t, []string{"orders"}, stored.Topics())
}

func TestProcess_StaleCopiesYieldOneMemory(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	f.analyzer.results["my card was charged twice"] = analysis.Analysis{Importance: 0.8, Summary: "Double charge"}

	copies := []*core.Message{
		{ID: 20, ConversationID: 1, Content: "my card was charged twice"},
		{ID: 20, ConversationID: 1, Content: "my card was charged twice"},
	}

	var wg sync.WaitGroup
	created := make([]*memory.Memory, len(copies))
	for i, msg := range copies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mem, err := f.manager.Process(context.Background(), msg)
			assert.NoError(t, err)
			created[i] = mem
		}()
	}
	wg.Wait()

	var n int
	for _, mem := range created {
		if mem != nil {
			n++
		}
	}
	assert.Equal(t, 1, n)

	mems, err := f.repo.ActiveMemories(context.Background(), memory.Filter{})
	require.NoError(t, err)
	assert.Len(t, mems, 1)
}

func TestProcess_BelowThresholdOnlyMarks(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	f.analyzer.results["hi"] = analysis.Analysis{Importance: 0.1}

	msg := &core.Message{ID: 11, ConversationID: 1, Content: "hi"}
	mem, err := f.manager.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, mem)
	assert.True(t, msg.MemoryProcessed)
	assert.Equal(t, []int64{11}, f.marks.marked)

	mems, err := f.repo.ActiveMemories(context.Background(), memory.Filter{})
	require.NoError(t, err)
	assert.Empty(t, mems)
}

func TestProcess_AtMostOnce(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	f.analyzer.results["remember my size is M"] = analysis.Analysis{Importance: 0.6, Summary: "Size M"}

	msg := &core.Message{ID: 12, ConversationID: 1, Content: "remember my size is M"}
	first, err := f.manager.Process(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.manager.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, second)

	mems, err := f.repo.ActiveMemories(context.Background(), memory.Filter{})
	require.NoError(t, err)
	assert.Len(t, mems, 1)
	assert.Equal(t, []int64{12}, f.marks.marked)
}

func TestProcess_BandsAndTypes(t *testing.T) {
	tests := []struct {
		importance float64
		wantType   memory.Type
		wantPrio   memory.Priority
	}{
		{0.3, memory.ShortTerm, memory.Low},
		{0.4, memory.ShortTerm, memory.Low},
		{0.41, memory.ShortTerm, memory.Medium},
		{0.7, memory.ShortTerm, memory.Medium},
		{0.71, memory.LongTerm, memory.High},
		{0.9, memory.LongTerm, memory.High},
		{0.91, memory.LongTerm, memory.Urgent},
	}
	for i, tt := range tests {
		f := newFixture(t, memory.DefaultConfig())
		mem := f.remember(t, int64(i+1), "msg", tt.importance, []float32{1, 0, 0})
		assert.Equal(t, tt.wantType, mem.Type, "importance %v", tt.importance)
		assert.Equal(t, tt.wantPrio, mem.Priority, "importance %v", tt.importance)
	}
}

func TestProcess_AnalyzerFailureSkips(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	f.analyzer.fail = true

	msg := &core.Message{ID: 13, ConversationID: 1, Content: "anything"}
	mem, err := f.manager.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, mem)
	assert.True(t, msg.MemoryProcessed)
}

func TestProcess_EmptySummaryUsesMessage(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	f.analyzer.results["I am allergic to peanuts"] = analysis.Analysis{Importance: 0.8}

	mem, err := f.manager.Process(context.Background(), &core.Message{ID: 14, ConversationID: 1, Content: "I am allergic to peanuts"})
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "I am allergic to peanuts", mem.Content)
}

func TestProcess_EmbeddingFailureStoresNil(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	f.emb.FailWhen(func(string) bool { return true })
	f.analyzer.results["x"] = analysis.Analysis{Importance: 0.5, Summary: "x summary"}

	mem, err := f.manager.Process(context.Background(), &core.Message{ID: 15, ConversationID: 1, Content: "x"})
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Nil(t, mem.Embedding)
}

func TestDecay_LinearAndIdempotent(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	mem := f.remember(t, 1, "long lived", 0.8, []float32{1, 0, 0})

	f.clock.advance(48 * time.Hour)
	report, err := f.manager.Decay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)

	got, err := f.repo.GetMemory(context.Background(), mem.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.RelevanceScore, 1e-9)

	// no time passes
	report, err = f.manager.Decay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Decayed)

	again, err := f.repo.GetMemory(context.Background(), mem.ID)
	require.NoError(t, err)
	assert.Equal(t, got.RelevanceScore, again.RelevanceScore)

	// a further day only counts once
	f.clock.advance(24 * time.Hour)
	_, err = f.manager.Decay(context.Background())
	require.NoError(t, err)
	got, err = f.repo.GetMemory(context.Background(), mem.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.RelevanceScore, 1e-9)
}

func TestDecay_ExhaustedIsDeactivated(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	mem := f.remember(t, 1, "fading", 0.75, []float32{1, 0, 0})

	f.clock.advance(10 * 24 * time.Hour)
	report, err := f.manager.Decay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Exhausted)

	got, err := f.repo.GetMemory(context.Background(), mem.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RelevanceScore)
	require.IsType(t, memory.Deactivated{}, got.State)
	assert.Equal(t, memory.ReasonDecayed, got.State.(memory.Deactivated).Reason)
}

func TestDecay_ShortTermTTL(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	short := f.remember(t, 1, "short", 0.5, []float32{1, 0, 0})
	long := f.remember(t, 2, "long", 0.9, []float32{0, 1, 0})

	f.clock.advance(25 * time.Hour)
	report, err := f.manager.Decay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	got, err := f.repo.GetMemory(context.Background(), short.ID)
	require.NoError(t, err)
	require.IsType(t, memory.Deactivated{}, got.State)
	assert.Equal(t, memory.ReasonExpired, got.State.(memory.Deactivated).Reason)

	kept, err := f.repo.GetMemory(context.Background(), long.ID)
	require.NoError(t, err)
	assert.True(t, kept.IsActive())
}

func TestRetrieveRelevant_PriorityBeforeSimilarity(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	f := newFixture(t, cfg)

	near := f.remember(t, 1, "near", 0.5, []float32{1, 0, 0})    // medium
	far := f.remember(t, 2, "far", 0.95, []float32{0.2, 1, 0})   // urgent
	mid := f.remember(t, 3, "mid", 0.45, []float32{0.8, 0.5, 0}) // medium
	f.emb.Set("query", []float32{1, 0, 0})

	got, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, Text: "query", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, far.ID, got[0].Memory.ID)
	assert.Equal(t, near.ID, got[1].Memory.ID)
	assert.Equal(t, mid.ID, got[2].Memory.ID)
	assert.InDelta(t, 1.0, got[1].Similarity, 1e-6)
}

func TestRetrieveRelevant_LimitAppliesAfterPriority(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	f := newFixture(t, cfg)

	best := f.remember(t, 1, "best", 0.35, []float32{1, 0, 0})       // low
	second := f.remember(t, 2, "second", 0.35, []float32{1, 0.1, 0}) // low
	urgent := f.remember(t, 3, "urgent", 0.95, []float32{0.45, 0.89, 0})
	f.emb.Set("query", []float32{1, 0, 0})

	got, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, Text: "query", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, urgent.ID, got[0].Memory.ID)
	assert.Equal(t, memory.Urgent, got[0].Memory.Priority)
	assert.InDelta(t, 0.45, got[0].Similarity, 0.01)
	assert.Equal(t, best.ID, got[1].Memory.ID)

	dropped, err := f.repo.GetMemory(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Zero(t, dropped.AccessCount, "memories cut by the limit are not touched")
}

func TestRetrieveRelevant_PreferenceCanLiftIntoLimit(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	f := newFixture(t, cfg, memory.WithPreferences(staticPreferences{"tech": 1}))

	f.remember(t, 1, "plain", 0.5, []float32{1, 0, 0})
	tech := f.remember(t, 2, "tech", 0.5, []float32{0.9, 0.3, 0}, "tech")
	f.emb.Set("query", []float32{1, 0, 0})

	got, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, UserID: 7, Text: "query", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tech.ID, got[0].Memory.ID)
}

func TestRetrieveRelevant_TouchesAccess(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	mem := f.remember(t, 1, "fact", 0.6, []float32{1, 0, 0})
	f.emb.Set("query", []float32{1, 0, 0})

	f.clock.advance(time.Hour)
	got, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, Text: "query"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	stored, err := f.repo.GetMemory(context.Background(), mem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AccessCount)
	assert.True(t, stored.LastAccessed.Equal(f.clock.t))
	assert.Equal(t, 1, got[0].Memory.AccessCount)
}

func TestRetrieveRelevant_Filters(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	short := f.remember(t, 1, "short", 0.5, []float32{1, 0, 0})
	long := f.remember(t, 2, "long", 0.8, []float32{1, 0, 0})
	f.emb.Set("query", []float32{1, 0, 0})

	got, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{
		ConversationID: 1, Text: "query", Types: []memory.Type{memory.ShortTerm},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, short.ID, got[0].Memory.ID)

	got, err = f.manager.RetrieveRelevant(context.Background(), memory.Query{
		ConversationID: 1, Text: "query", MinRelevance: 0.7,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, long.ID, got[0].Memory.ID)

	got, err = f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 2, Text: "query"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveRelevant_SkipsDeactivated(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	mem := f.remember(t, 1, "gone", 0.5, []float32{1, 0, 0})
	f.emb.Set("query", []float32{1, 0, 0})
	require.NoError(t, f.repo.Deactivate(context.Background(), mem.ID, memory.Deactivated{Reason: memory.ReasonExpired, At: f.clock.t}))

	got, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, Text: "query"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveRelevant_PreferenceReweightsWithinBand(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MinSimilarity = 0
	f := newFixture(t, cfg, memory.WithPreferences(staticPreferences{"tech": 1}))

	plain := f.remember(t, 1, "plain", 0.5, []float32{1, 0, 0})
	tech := f.remember(t, 2, "tech", 0.5, []float32{0.9, 0.3, 0}, "tech")
	f.emb.Set("query", []float32{1, 0, 0})

	withProfile, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, UserID: 7, Text: "query"})
	require.NoError(t, err)
	require.Len(t, withProfile, 2)
	assert.Equal(t, tech.ID, withProfile[0].Memory.ID)
	assert.Less(t, withProfile[0].Similarity, withProfile[1].Similarity)

	anonymous, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, Text: "query"})
	require.NoError(t, err)
	require.Len(t, anonymous, 2)
	assert.Equal(t, plain.ID, anonymous[0].Memory.ID)
}

func TestRetrieveRelevant_EmptyQuery(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	_, err := f.manager.RetrieveRelevant(context.Background(), memory.Query{ConversationID: 1, Text: " "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestFormat(t *testing.T) {
	f := newFixture(t, memory.DefaultConfig())
	mem := f.remember(t, 1, "I like green tea", 0.6, []float32{1, 0, 0}, "food")

	out := memory.Format([]memory.Recalled{{Memory: mem, Similarity: 0.9}}, "tea", 0)
	assert.True(t, strings.HasPrefix(out, "=== RELEVANT MEMORIES ==="))
	assert.Contains(t, out, "[MEDIUM] summary of I like green tea")
	assert.Contains(t, out, `Said: "I like green tea"`)
	assert.Contains(t, out, "Topics: food")

	assert.Empty(t, memory.Format(nil, "tea", 0))
}
