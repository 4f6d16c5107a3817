package chromem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
)

func newMemory(conversationID int64, typ memory.Type, relevance float64) *memory.Memory {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &memory.Memory{
		ConversationID: conversationID,
		Type:           typ,
		Priority:       memory.Medium,
		Content:        "content",
		Embedding:      []float32{0.5, 0.5},
		Metadata:       map[string]any{"topics": []string{"tech"}},
		CreatedAt:      now,
		LastAccessed:   now,
		DecayedAt:      now,
		RelevanceScore: relevance,
		State:          memory.Active{},
	}
}

func TestChromemStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)

	m := newMemory(1, memory.LongTerm, 0.8)
	require.NoError(t, s.CreateMemory(ctx, m))
	assert.Equal(t, int64(1), m.ID)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Embedding, got.Embedding)
	assert.Equal(t, memory.Medium, got.Priority)
	assert.True(t, got.CreatedAt.Equal(m.CreatedAt))
	assert.Equal(t, []string{"tech"}, got.Topics())
	assert.True(t, got.IsActive())
}

func TestChromemStore_GetMissing(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	_, err = s.GetMemory(context.Background(), 99)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	require.NoError(t, s.CreateMemory(context.Background(), newMemory(1, memory.ShortTerm, 0.5)))
	_, err = s.GetMemory(context.Background(), 99)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestChromemStore_NilEmbeddingSurvives(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)

	m := newMemory(1, memory.ShortTerm, 0.5)
	m.Embedding = nil
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
}

func TestChromemStore_ActiveMemoriesFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 5; i++ {
		m := newMemory(int64(1+i%2), memory.ShortTerm, 0.1*float64(i+1))
		require.NoError(t, s.CreateMemory(ctx, m))
		ids = append(ids, m.ID)
	}
	require.NoError(t, s.Deactivate(ctx, ids[4], memory.Deactivated{Reason: memory.ReasonDecayed, At: time.Now()}))

	all, err := s.ActiveMemories(ctx, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, m := range all {
		assert.Equal(t, ids[i], m.ID)
	}

	conv1, err := s.ActiveMemories(ctx, memory.Filter{ConversationID: 1})
	require.NoError(t, err)
	require.Len(t, conv1, 2)
	assert.Equal(t, ids[0], conv1[0].ID)
	assert.Equal(t, ids[2], conv1[1].ID)

	relevant, err := s.ActiveMemories(ctx, memory.Filter{MinRelevance: 0.25})
	require.NoError(t, err)
	assert.Len(t, relevant, 2)
}

func TestChromemStore_Updates(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)

	m := newMemory(1, memory.LongTerm, 0.8)
	require.NoError(t, s.CreateMemory(ctx, m))

	at := m.CreatedAt.Add(48 * time.Hour)
	require.NoError(t, s.UpdateRelevance(ctx, m.ID, 0.6, at))
	require.NoError(t, s.TouchAccess(ctx, m.ID, at))
	require.NoError(t, s.TouchAccess(ctx, m.ID, at))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.RelevanceScore)
	assert.True(t, got.DecayedAt.Equal(at))
	assert.True(t, got.LastAccessed.Equal(at))
	assert.Equal(t, 2, got.AccessCount)

	require.NoError(t, s.Deactivate(ctx, m.ID, memory.Deactivated{Reason: memory.ReasonExpired, At: at}))
	got, err = s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	d, ok := got.State.(memory.Deactivated)
	require.True(t, ok)
	assert.Equal(t, memory.ReasonExpired, d.Reason)
	assert.True(t, d.At.Equal(at))

	err = s.TouchAccess(ctx, 404, at)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
