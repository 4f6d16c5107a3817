package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, Urgent, PriorityFor(0.95))
	assert.Equal(t, High, PriorityFor(0.9))
	assert.Equal(t, Medium, PriorityFor(0.7))
	assert.Equal(t, Low, PriorityFor(0.4))
	assert.Equal(t, Low, PriorityFor(0))
}

func TestPriorityRoundTrip(t *testing.T) {
	for _, p := range []Priority{Low, Medium, High, Urgent} {
		got, err := ParsePriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePriority("critical")
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	got, err := ParseType("LONG_TERM")
	require.NoError(t, err)
	assert.Equal(t, LongTerm, got)

	_, err = ParseType("forever")
	assert.Error(t, err)
}

func TestFilterMatch(t *testing.T) {
	m := &Memory{ConversationID: 4, Type: ShortTerm, RelevanceScore: 0.5, State: Active{}}

	assert.True(t, Filter{}.Match(m))
	assert.True(t, Filter{ConversationID: 4, Types: []Type{ShortTerm}, MinRelevance: 0.5}.Match(m))
	assert.False(t, Filter{ConversationID: 5}.Match(m))
	assert.False(t, Filter{Types: []Type{LongTerm}}.Match(m))
	assert.False(t, Filter{MinRelevance: 0.6}.Match(m))
}

func TestIsActive(t *testing.T) {
	assert.True(t, (&Memory{State: Active{}}).IsActive())
	assert.False(t, (&Memory{State: Deactivated{Reason: ReasonDecayed, At: time.Now()}}).IsActive())
}

func TestTopicsFromDecodedMetadata(t *testing.T) {
	m := &Memory{Metadata: map[string]any{"topics": []any{"tech", 3, "food"}}}
	assert.Equal(t, []string{"tech", "food"}, m.Topics())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.ShortTermTTL = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ImportanceThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 5))
	assert.Equal(t, "hé...", truncate("héllo!", 5))
	assert.Equal(t, "...", truncate("hello", 2))
}
