package aggregate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgonDise/memory-layer-lab/aggregate"
)

func TestTierWeighting(t *testing.T) {
	a := aggregate.New(aggregate.DefaultConfig())

	// Identical base and relevance, so final scores reduce to the tier
	// weights 0.5 : 0.3 : 0.2.
	items := []aggregate.Item{
		{Source: aggregate.SourceLTM, Content: "ltm fact", Base: 1, Relevance: 1},
		{Source: aggregate.SourceMTM, Content: "mtm chunk", Base: 1, Relevance: 1},
		{Source: aggregate.SourceSTM, Content: "stm turn", Base: 1, Relevance: 1},
	}

	got := a.Aggregate(items, nil)
	require.Len(t, got, 3)
	assert.Equal(t, aggregate.SourceSTM, got[0].Source)
	assert.Equal(t, aggregate.SourceMTM, got[1].Source)
	assert.Equal(t, aggregate.SourceLTM, got[2].Source)
	assert.InDelta(t, 0.5, got[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.3, got[1].FinalScore, 1e-9)
	assert.InDelta(t, 0.2, got[2].FinalScore, 1e-9)
}

func TestScoreFormula(t *testing.T) {
	a := aggregate.New(aggregate.Config{
		WeightSTM: 0.5, WeightMTM: 0.3, WeightLTM: 0.2,
		Alpha: 0.7,
	})

	got := a.Aggregate([]aggregate.Item{
		{Source: aggregate.SourceSTM, Content: "x", Base: 0.4, Relevance: 0.8},
	}, nil)
	require.Len(t, got, 1)
	// 0.5 * (0.7*0.8 + 0.3*0.4) = 0.34
	assert.InDelta(t, 0.34, got[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.4, got[0].BaseScore, 1e-9)
	assert.InDelta(t, 0.8, got[0].RelevanceScore, 1e-9)
}

func TestCosineRelevanceOverridesPrecomputed(t *testing.T) {
	a := aggregate.New(aggregate.DefaultConfig())

	query := []float32{1, 0}
	got := a.Aggregate([]aggregate.Item{
		{Source: aggregate.SourceSTM, Content: "aligned", Embedding: []float32{1, 0}, Relevance: 0.1},
		{Source: aggregate.SourceSTM, Content: "orthogonal", Embedding: []float32{0, 1}, Relevance: 0.9},
	}, query)
	require.Len(t, got, 2)
	assert.Equal(t, "aligned", got[0].Content)
	assert.InDelta(t, 1.0, got[0].RelevanceScore, 1e-5)
	assert.InDelta(t, 0.0, got[1].RelevanceScore, 1e-5)
}

func TestSortedNonIncreasing(t *testing.T) {
	a := aggregate.New(aggregate.DefaultConfig())

	items := []aggregate.Item{
		{Source: aggregate.SourceLTM, Content: "a", Base: 0.1},
		{Source: aggregate.SourceSTM, Content: "b", Base: 0.9, Relevance: 0.9},
		{Source: aggregate.SourceMTM, Content: "c", Base: 0.5, Relevance: 0.2},
		{Source: aggregate.SourceSTM, Content: "d", Base: 0.2},
	}

	got := a.Aggregate(items, nil)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].FinalScore, got[i].FinalScore)
	}
}

func TestDedupKeepsHigherScored(t *testing.T) {
	a := aggregate.New(aggregate.DefaultConfig())

	items := []aggregate.Item{
		{Source: aggregate.SourceSTM, Content: "the parser handles nested blocks", Base: 0.9, Relevance: 0.9},
		{Source: aggregate.SourceMTM, Content: "the parser handles nested blocks", Base: 0.5, Relevance: 0.5},
		{Source: aggregate.SourceLTM, Content: "the cache uses an lru policy", Base: 0.5, Relevance: 0.5},
	}

	got := a.Aggregate(items, nil)
	require.Len(t, got, 2)
	assert.Equal(t, aggregate.SourceSTM, got[0].Source)
	assert.Equal(t, aggregate.SourceLTM, got[1].Source)
}

func TestDistinctContentSurvivesDedup(t *testing.T) {
	a := aggregate.New(aggregate.DefaultConfig())

	items := []aggregate.Item{
		{Source: aggregate.SourceSTM, Content: "the parser handles nested blocks", Base: 1},
		{Source: aggregate.SourceSTM, Content: "the scheduler uses a min-heap queue", Base: 0.5},
	}

	got := a.Aggregate(items, nil)
	assert.Len(t, got, 2)
}

func TestBaseFromRecency(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 1.0, aggregate.BaseFromRecency(now, now, time.Hour), 1e-9)
	assert.InDelta(t, 0.5, aggregate.BaseFromRecency(now.Add(-time.Hour), now, time.Hour), 1e-9)
	assert.InDelta(t, 0.25, aggregate.BaseFromRecency(now.Add(-2*time.Hour), now, time.Hour), 1e-9)
}

func TestBaseFromPosition(t *testing.T) {
	assert.InDelta(t, 1.0, aggregate.BaseFromPosition(3, 4), 1e-9)
	assert.InDelta(t, 0.25, aggregate.BaseFromPosition(0, 4), 1e-9)
	assert.Zero(t, aggregate.BaseFromPosition(0, 0))
}

func TestEmptyInput(t *testing.T) {
	a := aggregate.New(aggregate.DefaultConfig())
	assert.Empty(t, a.Aggregate(nil, nil))
}
