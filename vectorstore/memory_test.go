package vectorstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgonDise/memory-layer-lab/embedding/fallback"
	"github.com/AgonDise/memory-layer-lab/memory"
	"github.com/AgonDise/memory-layer-lab/vectorstore"
)

func axisVector(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis] = 1
	return vec
}

func TestAddGetDelete(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.NewMemory(4)

	rec := vectorstore.Record{
		ID:        "r1",
		Content:   "hello",
		Embedding: axisVector(4, 0),
		Metadata:  map[string]string{"category": "function"},
	}
	require.NoError(t, s.Add(ctx, rec))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "function", got.Metadata["category"])

	require.NoError(t, s.Delete(ctx, "r1"))
	_, err = s.Get(ctx, "r1")
	assert.True(t, errors.Is(err, memory.ErrNotFound))
}

func TestAddDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.NewMemory(4)

	err := s.Add(ctx, vectorstore.Record{ID: "bad", Embedding: make([]float32, 3)})
	assert.True(t, errors.Is(err, memory.ErrDimensionMismatch))
}

func TestAddDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.NewMemory(2)

	require.NoError(t, s.Add(ctx, vectorstore.Record{ID: "dup", Embedding: axisVector(2, 0)}))
	err := s.Add(ctx, vectorstore.Record{ID: "dup", Embedding: axisVector(2, 1)})
	assert.True(t, errors.Is(err, memory.ErrConstraintViolation))
}

func TestSearchOrderAndScores(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.NewMemory(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(ctx, vectorstore.Record{
			ID:        fmt.Sprintf("axis-%d", i),
			Embedding: axisVector(3, i),
		}))
	}

	matches, err := s.Search(ctx, axisVector(3, 1), 3, nil)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "axis-1", matches[0].ID)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-5)
	for _, m := range matches {
		assert.GreaterOrEqual(t, float64(m.Score), -1.0)
		assert.LessOrEqual(t, float64(m.Score), 1.0)
	}
}

func TestSearchMonotonicTopK(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.NewMemory(16)
	emb := fallback.New(16)

	for i := 0; i < 20; i++ {
		vec, err := emb.Embed(ctx, fmt.Sprintf("document %d", i))
		require.NoError(t, err)
		require.NoError(t, s.Add(ctx, vectorstore.Record{ID: fmt.Sprintf("d%02d", i), Embedding: vec}))
	}

	query, err := emb.Embed(ctx, "some query")
	require.NoError(t, err)

	five, err := s.Search(ctx, query, 5, nil)
	require.NoError(t, err)
	ten, err := s.Search(ctx, query, 10, nil)
	require.NoError(t, err)

	require.Len(t, five, 5)
	require.Len(t, ten, 10)
	for i := range five {
		assert.Equal(t, ten[i].ID, five[i].ID)
	}
}

func TestSearchFilter(t *testing.T) {
	ctx := context.Background()
	s := vectorstore.NewMemory(2)

	require.NoError(t, s.Add(ctx, vectorstore.Record{
		ID: "a", Embedding: axisVector(2, 0),
		Metadata: map[string]string{"project_id": "p1"},
	}))
	require.NoError(t, s.Add(ctx, vectorstore.Record{
		ID: "b", Embedding: axisVector(2, 0),
		Metadata: map[string]string{"project_id": "p2"},
	}))

	matches, err := s.Search(ctx, axisVector(2, 0), 10, vectorstore.Filter{"project_id": "p2"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestSearchReturnsAllWithLargeTopK(t *testing.T) {
	ctx := context.Background()
	dim := 8
	s := vectorstore.NewMemory(dim)
	emb := fallback.New(dim)

	const n = 7
	for i := 0; i < n; i++ {
		vec, err := emb.Embed(ctx, fmt.Sprintf("item %d", i))
		require.NoError(t, err)
		require.NoError(t, s.Add(ctx, vectorstore.Record{ID: fmt.Sprintf("i%d", i), Embedding: vec}))
	}

	query, err := emb.Embed(ctx, "random query")
	require.NoError(t, err)

	matches, err := s.Search(ctx, query, n+5, nil)
	require.NoError(t, err)
	assert.Len(t, matches, n)
}
