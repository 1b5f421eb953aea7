package ltm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgonDise/memory-layer-lab/embedding/fallback"
	"github.com/AgonDise/memory-layer-lab/graphstore"
	"github.com/AgonDise/memory-layer-lab/ltm"
	"github.com/AgonDise/memory-layer-lab/memory"
	"github.com/AgonDise/memory-layer-lab/vectorstore"
)

const dims = 16

func newHybrid(t *testing.T) (*ltm.Hybrid, vectorstore.Store, *graphstore.Memory) {
	t.Helper()
	vs := vectorstore.NewMemory(dims)
	gs := graphstore.NewMemory()
	return ltm.New(fallback.New(dims), vs, gs), vs, gs
}

func TestAddLinksBothSides(t *testing.T) {
	ctx := context.Background()
	h, vs, gs := newHybrid(t)

	ref, err := h.Add(ctx, "function foo parses the config file", ltm.Metadata{
		Category: "function",
		GraphLinks: []ltm.GraphLink{
			{Type: graphstore.EdgeBelongsTo, Target: "mod_bar"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, ref.VectorID)
	require.NotEmpty(t, ref.GraphEntityID)

	rec, err := vs.Get(ctx, ref.VectorID)
	require.NoError(t, err)
	assert.Equal(t, ref.GraphEntityID, rec.Metadata["graph_entity_id"])

	node, err := gs.GetNode(ctx, ref.GraphEntityID)
	require.NoError(t, err)
	assert.Equal(t, graphstore.LabelFunction, node.Label)
	assert.Equal(t, ref.VectorID, node.VectorID())

	// Placeholder target with label inferred from the id prefix.
	target, err := gs.GetNode(ctx, "mod_bar")
	require.NoError(t, err)
	assert.Equal(t, graphstore.LabelModule, target.Label)
	assert.Equal(t, true, target.Properties["placeholder"])

	rows, err := gs.Neighbors(ctx, ref.GraphEntityID, graphstore.NeighborOptions{
		EdgeType:  graphstore.EdgeBelongsTo,
		Direction: graphstore.DirectionOut,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "mod_bar", rows[0].Node.ID)
}

func TestAddUnknownCategoryIsFact(t *testing.T) {
	ctx := context.Background()
	h, _, gs := newHybrid(t)

	ref, err := h.Add(ctx, "misc observation", ltm.Metadata{Category: "mystery"})
	require.NoError(t, err)

	node, err := gs.GetNode(ctx, ref.GraphEntityID)
	require.NoError(t, err)
	assert.Equal(t, graphstore.LabelFact, node.Label)
}

func TestAddEmptyContent(t *testing.T) {
	h, _, _ := newHybrid(t)
	_, err := h.Add(context.Background(), "  ", ltm.Metadata{})
	assert.True(t, errors.Is(err, memory.ErrInvalidArgument))
}

// failingVectors rejects every Add to exercise rollback.
type failingVectors struct {
	vectorstore.Store
}

func (f *failingVectors) Add(ctx context.Context, rec vectorstore.Record) error {
	return memory.ErrBackendUnavailable
}

func TestAddRollsBackNodeOnVectorFailure(t *testing.T) {
	ctx := context.Background()
	gs := graphstore.NewMemory()
	h := ltm.New(fallback.New(dims), &failingVectors{Store: vectorstore.NewMemory(dims)}, gs)

	_, err := h.Add(ctx, "doomed fact", ltm.Metadata{Category: "concept"})
	require.Error(t, err)

	rows, err := gs.Query(ctx, graphstore.Query{
		Template: graphstore.FindByLabel,
		Label:    graphstore.LabelConcept,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// backlinkFailGraph fails the label-less merge used for the vector_id
// back-link.
type backlinkFailGraph struct {
	graphstore.Store
}

func (g *backlinkFailGraph) UpsertNode(ctx context.Context, label, id string, props map[string]any) (string, error) {
	if label == "" {
		return "", memory.ErrBackendUnavailable
	}
	return g.Store.UpsertNode(ctx, label, id, props)
}

func TestAddRollsBackBothOnBacklinkFailure(t *testing.T) {
	ctx := context.Background()
	vs := vectorstore.NewMemory(dims)
	gs := graphstore.NewMemory()
	h := ltm.New(fallback.New(dims), vs, &backlinkFailGraph{Store: gs})

	_, err := h.Add(ctx, "doomed fact", ltm.Metadata{Category: "concept"})
	require.Error(t, err)

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	rows, err := gs.Query(ctx, graphstore.Query{
		Template: graphstore.FindByLabel,
		Label:    graphstore.LabelConcept,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestVectorOnlyRoundTrip(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHybrid(t)

	ref, err := h.Add(ctx, "the scheduler uses a min-heap", ltm.Metadata{Category: "concept"})
	require.NoError(t, err)

	emb, err := fallback.New(dims).Embed(ctx, "the scheduler uses a min-heap")
	require.NoError(t, err)

	res, err := h.Query(ctx, ltm.Query{Strategy: ltm.VectorOnly, Embedding: emb, TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, ref.VectorID, res.Items[0].VectorID)
	assert.Equal(t, "the scheduler uses a min-heap", res.Items[0].Content)
	assert.Equal(t, ltm.SourceVector, res.Items[0].Source)
	assert.InDelta(t, 1.0, res.Items[0].Score, 1e-5)
}

func TestVectorFirstExpandsNeighborhood(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHybrid(t)

	ref, err := h.Add(ctx, "function foo parses config", ltm.Metadata{
		Category:   "function",
		GraphLinks: []ltm.GraphLink{{Type: graphstore.EdgeBelongsTo, Target: "mod_bar"}},
	})
	require.NoError(t, err)

	emb, err := fallback.New(dims).Embed(ctx, "function foo parses config")
	require.NoError(t, err)

	res, err := h.Query(ctx, ltm.Query{Strategy: ltm.VectorFirst, Embedding: emb, TopK: 5})
	require.NoError(t, err)
	require.False(t, res.Degraded)

	var sources []string
	var ids []string
	for _, it := range res.Items {
		sources = append(sources, it.Source)
		ids = append(ids, it.GraphEntityID)
	}
	assert.Contains(t, ids, ref.GraphEntityID)
	assert.Contains(t, ids, "mod_bar")
	assert.Contains(t, sources, ltm.SourceGraph)
}

// downGraph fails traversals to exercise degradation.
type downGraph struct {
	graphstore.Store
}

func (g *downGraph) Neighbors(ctx context.Context, id string, opts graphstore.NeighborOptions) ([]graphstore.Row, error) {
	return nil, memory.ErrBackendUnavailable
}

func TestVectorFirstDegradesWhenGraphDown(t *testing.T) {
	ctx := context.Background()
	vs := vectorstore.NewMemory(dims)
	gs := graphstore.NewMemory()
	h := ltm.New(fallback.New(dims), vs, gs)

	_, err := h.Add(ctx, "resilient fact", ltm.Metadata{Category: "concept"})
	require.NoError(t, err)

	degraded := ltm.New(fallback.New(dims), vs, &downGraph{Store: gs})

	emb, err := fallback.New(dims).Embed(ctx, "resilient fact")
	require.NoError(t, err)

	res, err := degraded.Query(ctx, ltm.Query{Strategy: ltm.VectorFirst, Embedding: emb, TopK: 3})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, "resilient fact", res.Items[0].Content)
}

func TestGraphFirstEnrichesContent(t *testing.T) {
	ctx := context.Background()
	h, _, gs := newHybrid(t)

	ref, err := h.Add(ctx, "parse_config reads the yaml file", ltm.Metadata{Category: "function"})
	require.NoError(t, err)
	_, err = gs.UpsertNode(ctx, "", ref.GraphEntityID, map[string]any{"name": "parse_config"})
	require.NoError(t, err)

	res, err := h.Query(ctx, ltm.Query{
		Strategy: ltm.GraphFirst,
		Keywords: []string{"parse_config"},
		TopK:     3,
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, ltm.SourceBoth, res.Items[0].Source)
	assert.Equal(t, "parse_config reads the yaml file", res.Items[0].Content)
}

func TestParallelJoinsByNodeID(t *testing.T) {
	ctx := context.Background()
	h, _, gs := newHybrid(t)

	ref, err := h.Add(ctx, "cache invalidation strategy", ltm.Metadata{Category: "concept"})
	require.NoError(t, err)
	_, err = gs.UpsertNode(ctx, "", ref.GraphEntityID, map[string]any{"name": "cache"})
	require.NoError(t, err)

	emb, err := fallback.New(dims).Embed(ctx, "cache invalidation strategy")
	require.NoError(t, err)

	res, err := h.Query(ctx, ltm.Query{
		Strategy:  ltm.Parallel,
		Embedding: emb,
		Keywords:  []string{"cache"},
		TopK:      5,
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, ltm.SourceBoth, res.Items[0].Source)
}

func TestRelated(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHybrid(t)

	ref, err := h.Add(ctx, "fn_render draws the frame", ltm.Metadata{
		Category:   "function",
		GraphLinks: []ltm.GraphLink{{Type: graphstore.EdgeBelongsTo, Target: "mod_ui"}},
	})
	require.NoError(t, err)

	items, err := h.Related(ctx, ref.VectorID, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "mod_ui", items[0].GraphEntityID)
}

func TestFindPath(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHybrid(t)

	a, err := h.Add(ctx, "fn_a calls fn_b", ltm.Metadata{
		Category:   "function",
		GraphLinks: []ltm.GraphLink{{Type: graphstore.EdgeCalls, Target: "fn_b"}},
	})
	require.NoError(t, err)

	rows, err := h.FindPath(ctx, a.GraphEntityID, "fn_b", 3)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "fn_b", rows[len(rows)-1].Node.ID)
}

func TestRemoveDeletesBothSides(t *testing.T) {
	ctx := context.Background()
	h, vs, gs := newHybrid(t)

	ref, err := h.Add(ctx, "ephemeral fact", ltm.Metadata{Category: "concept"})
	require.NoError(t, err)

	require.NoError(t, h.Remove(ctx, ref.VectorID))

	_, err = vs.Get(ctx, ref.VectorID)
	assert.True(t, errors.Is(err, memory.ErrNotFound))
	_, err = gs.GetNode(ctx, ref.GraphEntityID)
	assert.True(t, errors.Is(err, memory.ErrNotFound))
}
