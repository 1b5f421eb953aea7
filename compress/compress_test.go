package compress_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgonDise/memory-layer-lab/aggregate"
	"github.com/AgonDise/memory-layer-lab/compress"
	"github.com/AgonDise/memory-layer-lab/memory"
)

// content100 is 400 chars, exactly 100 tokens under chars/4.
var content100 = strings.Repeat("wxyz", 100)

func item(source string, score float64, content string) compress.Item {
	return compress.Item{Source: source, Score: score, Content: content}
}

func TestTruncateKeepsInputOrder(t *testing.T) {
	c := compress.New()

	items := []compress.Item{
		item(aggregate.SourceSTM, 0.1, content100),
		item(aggregate.SourceMTM, 0.9, content100),
		item(aggregate.SourceLTM, 0.5, content100),
	}

	res, err := c.Compress(items, 250, compress.Truncate, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, aggregate.SourceSTM, res.Items[0].Source)
	assert.Equal(t, aggregate.SourceMTM, res.Items[1].Source)
	assert.Equal(t, 200, res.TotalTokens)
	assert.Equal(t, 1, res.ItemsRemoved)
}

func TestScoreBasedKeepsHighestScores(t *testing.T) {
	c := compress.New()

	items := []compress.Item{
		item(aggregate.SourceLTM, 0.2, content100),
		item(aggregate.SourceSTM, 0.9, content100),
		item(aggregate.SourceMTM, 0.5, content100),
	}

	res, err := c.Compress(items, 200, compress.ScoreBased, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 0.9, res.Items[0].Score)
	assert.Equal(t, 0.5, res.Items[1].Score)
	assert.LessOrEqual(t, res.TotalTokens, 200)
}

func TestScoreBasedPreserveRecent(t *testing.T) {
	c := compress.New()
	now := time.Now()

	// Eight 100-token items with a 500-token budget. The two most recent
	// short-term turns score lowest but must survive.
	var items []compress.Item
	for i := 0; i < 6; i++ {
		it := item(aggregate.SourceLTM, 0.9-float64(i)*0.05, content100)
		items = append(items, it)
	}
	recent1 := item(aggregate.SourceSTM, 0.1, "recent one "+content100[:389])
	recent1.CreatedAt = now
	recent2 := item(aggregate.SourceSTM, 0.1, "recent two "+content100[:389])
	recent2.CreatedAt = now.Add(-time.Second)
	items = append(items, recent1, recent2)

	res, err := c.Compress(items, 500, compress.ScoreBased, 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.TotalTokens, 500)

	var stmKept int
	for _, it := range res.Items {
		if it.Source == aggregate.SourceSTM {
			stmKept++
		}
	}
	assert.Equal(t, 2, stmKept)
	assert.Len(t, res.Items, 5)
}

func TestMMRPrefersDiverseItems(t *testing.T) {
	c := compress.New()

	dup1 := item(aggregate.SourceSTM, 1.0, "the parser handles nested blocks")
	dup1.Embedding = []float32{1, 0}
	dup2 := item(aggregate.SourceMTM, 0.95, "parser nested block handling notes")
	dup2.Embedding = []float32{1, 0}
	diverse := item(aggregate.SourceLTM, 0.6, "the cache uses an lru policy")
	diverse.Embedding = []float32{0, 1}

	res, err := c.Compress([]compress.Item{dup1, dup2, diverse}, 16, compress.MMR, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "the parser handles nested blocks", res.Items[0].Content)
	// 0.7*0.6 - 0.3*0 = 0.42 beats 0.7*0.95 - 0.3*1 = 0.365.
	assert.Equal(t, "the cache uses an lru policy", res.Items[1].Content)
}

func TestSingleOversizedItemTruncated(t *testing.T) {
	c := compress.New()

	res, err := c.Compress([]compress.Item{
		item(aggregate.SourceSTM, 1.0, content100),
	}, 10, compress.Truncate, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].Truncated)
	assert.Equal(t, 10, res.Items[0].Tokens)
	assert.Len(t, res.Items[0].Content, 40)
	assert.LessOrEqual(t, res.TotalTokens, 10)
}

func TestZeroBudget(t *testing.T) {
	c := compress.New()

	res, err := c.Compress([]compress.Item{
		item(aggregate.SourceSTM, 1.0, content100),
	}, 0, compress.ScoreBased, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.TotalTokens)
	assert.Zero(t, res.CompressionRatio)
	assert.Equal(t, 1, res.ItemsRemoved)
}

func TestNegativeBudget(t *testing.T) {
	c := compress.New()
	_, err := c.Compress(nil, -1, compress.Truncate, 0)
	assert.True(t, errors.Is(err, memory.ErrInvalidArgument))
}

func TestUnknownStrategy(t *testing.T) {
	c := compress.New()
	_, err := c.Compress([]compress.Item{item(aggregate.SourceSTM, 1, "x")}, 10, "zip", 0)
	assert.True(t, errors.Is(err, memory.ErrInvalidArgument))
}

func TestCustomEstimator(t *testing.T) {
	words := func(s string) int { return len(strings.Fields(s)) }
	c := compress.New(compress.WithTokenEstimator(memory.TokenEstimator(words)))

	res, err := c.Compress([]compress.Item{
		item(aggregate.SourceSTM, 1.0, "one two three"),
		item(aggregate.SourceSTM, 0.5, "four five six"),
	}, 4, compress.Truncate, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 3, res.TotalTokens)
}

func TestCompressionRatio(t *testing.T) {
	c := compress.New()

	res, err := c.Compress([]compress.Item{
		item(aggregate.SourceSTM, 1.0, content100),
		item(aggregate.SourceSTM, 0.5, content100),
	}, 100, compress.ScoreBased, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.CompressionRatio, 1e-9)
}

func TestFromAggregate(t *testing.T) {
	items := compress.FromAggregate([]aggregate.Result{
		{Source: aggregate.SourceSTM, Content: "x", FinalScore: 0.4},
	})
	require.Len(t, items, 1)
	assert.Equal(t, 0.4, items[0].Score)
}
