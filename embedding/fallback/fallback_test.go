package fallback_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/embedding/fallback"
)

func TestEmbedDeterministic(t *testing.T) {
	ctx := context.Background()
	e := fallback.New(384)

	a, err := e.Embed(ctx, "the same text")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := e.Embed(ctx, "a different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestEmbedUnitNorm(t *testing.T) {
	ctx := context.Background()
	e := fallback.New(384)

	vec, err := e.Embed(ctx, "normalize me")
	require.NoError(t, err)
	require.Len(t, vec, 384)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbedBatch(t *testing.T) {
	ctx := context.Background()
	e := fallback.New(64)

	vecs, err := e.EmbedBatch(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestSimilaritySelf(t *testing.T) {
	ctx := context.Background()
	e := fallback.New(128)

	vec, err := e.Embed(ctx, "self similarity")
	require.NoError(t, err)

	sim, err := embedding.Similarity(vec, vec)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(sim), 1e-5)
}

func TestSimilarityDimensionMismatch(t *testing.T) {
	_, err := embedding.Similarity(make([]float32, 3), make([]float32, 4))
	assert.Error(t, err)
}
