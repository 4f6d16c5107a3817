package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_DeterministicAndNormalized(t *testing.T) {
	m := New(32)
	a, err := m.Embed(context.Background(), "same text")
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbed_FixedVectorIsCopied(t *testing.T) {
	m := New(2).Set("x", []float32{1, 0})
	v, err := m.Embed(context.Background(), "x")
	require.NoError(t, err)
	v[0] = 42

	again, err := m.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, again)
}

func TestEmbed_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(4).Embed(ctx, "x")
	assert.Error(t, err)
}

func TestNormalize_ZeroVector(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}
