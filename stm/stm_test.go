package stm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgonDise/memory-layer-lab/memory"
	"github.com/AgonDise/memory-layer-lab/stm"
)

func axis(i, dim int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func TestAddEvictsOldest(t *testing.T) {
	m := stm.New(3, 0)

	for _, content := range []string{"t1", "t2", "t3", "t4"} {
		m.Add(memory.NewTurn(memory.RoleUser, content))
	}

	turns := m.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "t2", turns[0].Content)
	assert.Equal(t, "t4", turns[2].Content)
}

func TestCapacityOne(t *testing.T) {
	m := stm.New(1, 0)
	m.Add(memory.NewTurn(memory.RoleUser, "first"))
	m.Add(memory.NewTurn(memory.RoleUser, "second"))

	turns := m.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "second", turns[0].Content)
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := now
	m := stm.New(10, time.Second, stm.WithClock(func() time.Time { return clock }))

	m.Add(memory.Turn{Role: memory.RoleUser, Content: "old"})
	clock = now.Add(1500 * time.Millisecond)
	m.Add(memory.Turn{Role: memory.RoleUser, Content: "fresh"})

	turns := m.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "fresh", turns[0].Content)
	assert.Equal(t, 1, m.Len())
}

func TestZeroTTLDisablesExpiry(t *testing.T) {
	now := time.Now()
	clock := now
	m := stm.New(10, 0, stm.WithClock(func() time.Time { return clock }))

	m.Add(memory.Turn{Role: memory.RoleUser, Content: "ancient"})
	clock = now.Add(48 * time.Hour)

	assert.Equal(t, 1, m.Len())
}

func TestGetRecentInsertionOrder(t *testing.T) {
	m := stm.New(10, 0)
	for _, content := range []string{"a", "b", "c", "d"} {
		m.Add(memory.NewTurn(memory.RoleUser, content))
	}

	got := m.GetRecent(2, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Turn.Content)
	assert.Equal(t, "d", got[1].Turn.Content)
	assert.Zero(t, got[0].Similarity)
}

func TestGetRecentRanksByEmbedding(t *testing.T) {
	m := stm.New(10, 0)

	near := memory.NewTurn(memory.RoleUser, "near")
	near.Embedding = []float32{1, 0, 0}
	mid := memory.NewTurn(memory.RoleUser, "mid")
	mid.Embedding = []float32{0.7, 0.7, 0}
	far := memory.NewTurn(memory.RoleUser, "far")
	far.Embedding = []float32{0, 1, 0}

	m.Add(far)
	m.Add(near)
	m.Add(mid)

	got := m.GetRecent(2, axis(0, 3))
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Turn.Content)
	assert.Equal(t, "mid", got[1].Turn.Content)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
}

func TestGetRecentFillsWithUnembedded(t *testing.T) {
	m := stm.New(10, 0)

	embedded := memory.NewTurn(memory.RoleUser, "embedded")
	embedded.Embedding = axis(0, 3)
	m.Add(embedded)
	m.Add(memory.NewTurn(memory.RoleUser, "plain one"))
	m.Add(memory.NewTurn(memory.RoleUser, "plain two"))

	got := m.GetRecent(2, axis(0, 3))
	require.Len(t, got, 2)
	assert.Equal(t, "embedded", got[0].Turn.Content)
	assert.Equal(t, "plain two", got[1].Turn.Content)
	assert.Zero(t, got[1].Similarity)
}

func TestSearchByEmbeddingSkipsUnembedded(t *testing.T) {
	m := stm.New(10, 0)

	embedded := memory.NewTurn(memory.RoleUser, "embedded")
	embedded.Embedding = axis(1, 3)
	m.Add(embedded)
	m.Add(memory.NewTurn(memory.RoleUser, "plain"))

	got := m.SearchByEmbedding(axis(1, 3), 5)
	require.Len(t, got, 1)
	assert.Equal(t, "embedded", got[0].Turn.Content)
}

func TestClear(t *testing.T) {
	m := stm.New(10, 0)
	m.Add(memory.NewTurn(memory.RoleUser, "a"))
	m.Clear()
	assert.Zero(t, m.Len())
}

func TestRestoreTrimsToCapacity(t *testing.T) {
	m := stm.New(2, 0)
	m.Restore([]memory.Turn{
		memory.NewTurn(memory.RoleUser, "a"),
		memory.NewTurn(memory.RoleUser, "b"),
		memory.NewTurn(memory.RoleUser, "c"),
	})

	turns := m.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "b", turns[0].Content)
	assert.Equal(t, "c", turns[1].Content)
}
