package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/document"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/preference"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDirectoryAndIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "recall.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Ping())

	ctx := context.Background()
	doc := &document.Document{Title: "t", Content: "c"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", got.Title)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1, 3.5}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	got, err = decodeVector(encodeVector(nil))
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTimeLayoutSortsAsString(t *testing.T) {
	early := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(time.Nanosecond * 500)
	assert.Less(t, formatTime(early), formatTime(late))
	assert.True(t, parseTime(formatTime(late)).Equal(late))
	assert.True(t, parseTime("").IsZero())
}

func TestDocuments_CRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := &document.Document{Title: "Refunds", Source: "faq.md", Content: "body", Metadata: map[string]any{"lang": "en"}}
	require.NoError(t, s.CreateDocument(ctx, doc))
	assert.NotZero(t, doc.ID)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Refunds", got.Title)
	assert.Equal(t, "en", got.Metadata["lang"])

	got.Title = "Refund policy"
	require.NoError(t, s.UpdateDocument(ctx, got))
	got, err = s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Refund policy", got.Title)

	err = s.UpdateDocument(ctx, &document.Document{ID: 999, Content: "x"})
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, err = s.GetDocument(ctx, 999)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDocuments_DeleteCascadesChunks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := &document.Document{Title: "d", Content: "abc"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateChunk(ctx, &document.Chunk{DocumentID: doc.ID, Content: "c", ChunkIndex: i}))
	}

	deleted, err := s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	chunks, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	deleted, err = s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestChunks_EmbeddingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := &document.Document{Title: "Guide", Source: "guide.md", Content: "xy"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	embedded := &document.Chunk{DocumentID: doc.ID, Content: "x", ChunkIndex: 0, Embedding: []float32{1, 0}}
	pending := &document.Chunk{DocumentID: doc.ID, Content: "y", ChunkIndex: 1}
	require.NoError(t, s.CreateChunk(ctx, embedded))
	require.NoError(t, s.CreateChunk(ctx, pending))

	// chunk_index is unique per document
	assert.Error(t, s.CreateChunk(ctx, &document.Chunk{DocumentID: doc.ID, Content: "z", ChunkIndex: 1}))

	missing, err := s.ChunksMissingEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, pending.ID, missing[0].ID)

	require.NoError(t, s.SetChunkEmbedding(ctx, pending.ID, []float32{0, 1}))
	missing, err = s.ChunksMissingEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)

	views, err := s.SearchableChunks(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Guide", views[0].Title)
	assert.Equal(t, "guide.md", views[1].Source)
	assert.Equal(t, []float32{0, 1}, views[1].Embedding)

	err = s.SetChunkEmbedding(ctx, 999, []float32{1, 1})
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMessages_SaveMarkAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, s.SaveMessage(ctx, &core.Message{
			ConversationID: 1, UserID: 7, Content: content, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SaveMessage(ctx, &core.Message{ConversationID: 2, UserID: 8, Content: "other", CreatedAt: base}))

	recent, err := s.RecentMessages(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)
	assert.Equal(t, core.RoleUser, recent[0].Role)

	claimed, err := s.MarkMemoryProcessed(ctx, recent[0].ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	got, err := s.GetMessage(ctx, recent[0].ID)
	require.NoError(t, err)
	assert.True(t, got.MemoryProcessed)

	claimed, err = s.MarkMemoryProcessed(ctx, recent[0].ID)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	unprocessed, err := s.UnprocessedMessages(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 3)

	_, err = s.MarkMemoryProcessed(ctx, 999)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	_, err = s.GetMessage(ctx, 999)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMessages_ExplicitID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	msg := &core.Message{ID: 42, ConversationID: 1, UserID: 1, Content: "hi"}
	require.NoError(t, s.SaveMessage(ctx, msg))
	assert.Equal(t, int64(42), msg.ID)

	_, err := s.GetMessage(ctx, 42)
	require.NoError(t, err)
}

func TestMessages_ActiveUsers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(48 * time.Hour)
	require.NoError(t, s.SaveMessage(ctx, &core.Message{UserID: 1, Content: "a", CreatedAt: old}))
	require.NoError(t, s.SaveMessage(ctx, &core.Message{UserID: 2, Content: "b", CreatedAt: recent}))
	require.NoError(t, s.SaveMessage(ctx, &core.Message{UserID: 3, Content: "c", CreatedAt: recent}))
	require.NoError(t, s.SaveMessage(ctx, &core.Message{UserID: 2, Content: "d", CreatedAt: recent}))

	users, err := s.ActiveUsers(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, users)
}

func newMemory(conversationID int64, typ memory.Type, relevance float64) *memory.Memory {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &memory.Memory{
		ConversationID:   conversationID,
		Type:             typ,
		Priority:         memory.High,
		Content:          "customer wants a refund",
		Embedding:        []float32{0.6, 0.8},
		Context:          "I want a refund",
		SourceMessageIDs: []int64{5},
		Metadata:         map[string]any{"topics": []string{"billing"}},
		CreatedAt:        now,
		LastAccessed:     now,
		DecayedAt:        now,
		RelevanceScore:   relevance,
		State:            memory.Active{},
	}
}

func TestMemories_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := newMemory(1, memory.LongTerm, 0.8)
	require.NoError(t, s.CreateMemory(ctx, m))
	assert.NotZero(t, m.ID)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.LongTerm, got.Type)
	assert.Equal(t, memory.High, got.Priority)
	assert.Equal(t, m.Embedding, got.Embedding)
	assert.Equal(t, []int64{5}, got.SourceMessageIDs)
	assert.Equal(t, []string{"billing"}, got.Topics())
	assert.True(t, got.CreatedAt.Equal(m.CreatedAt))
	assert.True(t, got.IsActive())

	_, err = s.GetMemory(ctx, 999)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMemories_ActiveFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := newMemory(1, memory.LongTerm, 0.9)
	b := newMemory(1, memory.ShortTerm, 0.4)
	c := newMemory(2, memory.LongTerm, 0.7)
	d := newMemory(1, memory.LongTerm, 0.8)
	for _, m := range []*memory.Memory{a, b, c, d} {
		require.NoError(t, s.CreateMemory(ctx, m))
	}
	require.NoError(t, s.Deactivate(ctx, d.ID, memory.Deactivated{Reason: memory.ReasonDecayed, At: time.Now()}))

	all, err := s.ActiveMemories(ctx, memory.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID, c.ID}, ids(all))

	conv, err := s.ActiveMemories(ctx, memory.Filter{ConversationID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(conv))

	long, err := s.ActiveMemories(ctx, memory.Filter{Types: []memory.Type{memory.LongTerm}, MinRelevance: 0.8})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, ids(long))
}

func TestMemories_UpdateDeactivateTouch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := newMemory(1, memory.ShortTerm, 0.5)
	require.NoError(t, s.CreateMemory(ctx, m))

	later := m.CreatedAt.Add(72 * time.Hour)
	require.NoError(t, s.UpdateRelevance(ctx, m.ID, 0.2, later))
	require.NoError(t, s.TouchAccess(ctx, m.ID, later))
	require.NoError(t, s.TouchAccess(ctx, m.ID, later))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got.RelevanceScore, 1e-9)
	assert.True(t, got.DecayedAt.Equal(later))
	assert.True(t, got.LastAccessed.Equal(later))
	assert.Equal(t, 2, got.AccessCount)

	require.NoError(t, s.Deactivate(ctx, m.ID, memory.Deactivated{Reason: memory.ReasonExpired, At: later}))
	got, err = s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive())
	st, ok := got.State.(memory.Deactivated)
	require.True(t, ok)
	assert.Equal(t, memory.ReasonExpired, st.Reason)
	assert.True(t, st.At.Equal(later))

	assert.True(t, errors.Is(s.UpdateRelevance(ctx, 999, 0.1, later), core.ErrNotFound))
	assert.True(t, errors.Is(s.TouchAccess(ctx, 999, later), core.ErrNotFound))
}

func TestPreferences_LoadAndSave(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p, err := s.LoadProfile(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, p)

	want := preference.Profile{"topics": {"billing": 0.8}}
	require.NoError(t, s.SaveProfile(ctx, 1, want))
	require.NoError(t, s.SaveProfile(ctx, 1, preference.Profile{"topics": {"billing": 0.48}}))

	p, err = s.LoadProfile(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.48, p["topics"]["billing"], 1e-9)
}

func ids(ms []*memory.Memory) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestMessages_ConcurrentWritersAndClaims(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, s.SaveMessage(ctx, &core.Message{ConversationID: int64(w + 1), UserID: 1, Content: "hello"}))
			}
		}()
	}
	wg.Wait()

	pending, err := s.UnprocessedMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 80)

	var claims atomic.Int32
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkMemoryProcessed(ctx, pending[0].ID)
			assert.NoError(t, err)
			if ok {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), claims.Load())
}
