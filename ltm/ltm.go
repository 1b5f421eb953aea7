// Package ltm implements long-term memory as a coordinator over a vector
// store and a property graph. Every fact lives in both backends, linked
// bidirectionally: the vector record carries the graph entity id in its
// metadata and the graph node carries the vector id as a property.
// Retrieval composes the two sides through five strategies, degrading
// gracefully when one backend is down.
package ltm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/graphstore"
	"github.com/AgonDise/memory-layer-lab/memory"
	"github.com/AgonDise/memory-layer-lab/vectorstore"
)

// Strategy selects how a query composes the two backends.
type Strategy string

const (
	// VectorOnly searches the vector store alone.
	VectorOnly Strategy = "vector_only"

	// GraphOnly runs a parameterized graph query alone.
	GraphOnly Strategy = "graph_only"

	// VectorFirst searches vectors, then expands each hit through its
	// graph neighborhood. Degrades to VectorOnly when the graph is down.
	VectorFirst Strategy = "vector_first"

	// GraphFirst queries the graph, then enriches hits with their vector
	// records. Degrades to GraphOnly when the vector store is down.
	GraphFirst Strategy = "graph_first"

	// Parallel runs both sides concurrently and joins by shared ids.
	Parallel Strategy = "parallel"
)

// Item sources.
const (
	SourceVector = "vector"
	SourceGraph  = "graph"
	SourceBoth   = "both"
)

// DefaultExpandDepth bounds VectorFirst graph expansion.
const DefaultExpandDepth = 1

// GraphLink declares an edge from a new fact to an existing (or
// placeholder) entity.
type GraphLink struct {
	Type       string         `json:"type"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Metadata describes a fact on ingestion. Category drives the node label
// vocabulary; unknown categories map to the Fact label.
type Metadata struct {
	Category   string      `json:"category"`
	Tags       []string    `json:"tags,omitempty"`
	FilePath   string      `json:"file_path,omitempty"`
	LineStart  int         `json:"line_start,omitempty"`
	LineEnd    int         `json:"line_end,omitempty"`
	Importance float64     `json:"importance,omitempty"`
	ProjectID  string      `json:"project_id,omitempty"`
	GraphLinks []GraphLink `json:"graph_links,omitempty"`
}

// Ref identifies a stored fact on both sides.
type Ref struct {
	VectorID      string `json:"vector_id"`
	GraphEntityID string `json:"graph_entity_id"`
}

// Query is a retrieval request. Embedding feeds the vector side; Keywords
// feed derived graph lookups when no explicit Graph query is set.
type Query struct {
	Embedding   []float32
	Keywords    []string
	TopK        int
	Strategy    Strategy
	ExpandDepth int
	Filter      vectorstore.Filter

	// Graph overrides the keyword-derived graph query for GraphOnly,
	// GraphFirst, and Parallel.
	Graph *graphstore.Query
}

// Item is one retrieval result.
type Item struct {
	VectorID      string            `json:"vector_id,omitempty"`
	GraphEntityID string            `json:"graph_entity_id,omitempty"`
	Content       string            `json:"content"`
	Score         float32           `json:"score"`
	PathLength    int               `json:"path_length,omitempty"`
	Source        string            `json:"source"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Result carries retrieval items plus a degradation flag set when one
// backend was unavailable and the strategy fell back.
type Result struct {
	Items    []Item `json:"items"`
	Degraded bool   `json:"degraded,omitempty"`
}

// DefaultCategoryLabels maps ingestion categories to node labels.
func DefaultCategoryLabels() map[string]string {
	return map[string]string{
		"function":      graphstore.LabelFunction,
		"module":        graphstore.LabelModule,
		"commit":        graphstore.LabelCommit,
		"bug":           graphstore.LabelBug,
		"concept":       graphstore.LabelConcept,
		"doc":           graphstore.LabelDoc,
		"documentation": graphstore.LabelDoc,
		"guideline":     graphstore.LabelGuideline,
		"architecture":  graphstore.LabelArchitecture,
	}
}

// placeholderPrefixes infer a label for auto-created link targets.
var placeholderPrefixes = []struct {
	prefix string
	label  string
}{
	{"fn_", graphstore.LabelFunction},
	{"mod_", graphstore.LabelModule},
	{"commit_", graphstore.LabelCommit},
	{"bug_", graphstore.LabelBug},
	{"doc_", graphstore.LabelDoc},
}

// Hybrid is the long-term tier.
type Hybrid struct {
	embedder embedding.Embedder
	vectors  vectorstore.Store
	graph    graphstore.Store
	labels   map[string]string
	log      *zap.Logger
}

// Option configures the tier.
type Option func(*Hybrid)

// WithLogger sets the logger; default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Hybrid) { h.log = log }
}

// WithCategoryLabels replaces the category to label vocabulary.
func WithCategoryLabels(labels map[string]string) Option {
	return func(h *Hybrid) { h.labels = labels }
}

// New creates a hybrid long-term memory over the given backends.
func New(embedder embedding.Embedder, vectors vectorstore.Store, graph graphstore.Store, opts ...Option) *Hybrid {
	h := &Hybrid{
		embedder: embedder,
		vectors:  vectors,
		graph:    graph,
		labels:   DefaultCategoryLabels(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add stores a fact in both backends transactionally: node first, then
// vector record pointing back at the node, then the node's vector_id
// back-link. A failure at any step removes what the earlier steps
// created. Declared graph links are best-effort, applied after the pair
// is durable; a missing link target becomes a placeholder node with a
// label inferred from its id prefix.
func (h *Hybrid) Add(ctx context.Context, content string, meta Metadata) (Ref, error) {
	if strings.TrimSpace(content) == "" {
		return Ref{}, fmt.Errorf("ltm add: empty content: %w", memory.ErrInvalidArgument)
	}

	vec, err := h.embedder.Embed(ctx, content)
	if err != nil {
		return Ref{}, fmt.Errorf("embed content: %w", err)
	}

	nodeID, err := h.graph.UpsertNode(ctx, h.labelFor(meta.Category), "", h.nodeProps(content, meta))
	if err != nil {
		return Ref{}, fmt.Errorf("create graph node: %w", err)
	}

	vectorID := memory.NewID()
	rec := vectorstore.Record{
		ID:        vectorID,
		Content:   content,
		Embedding: vec,
		Metadata:  h.recordMeta(nodeID, meta),
	}
	if err := h.vectors.Add(ctx, rec); err != nil {
		if delErr := h.graph.DeleteNode(ctx, nodeID); delErr != nil {
			h.log.Error("rollback node delete failed", zap.String("node_id", nodeID), zap.Error(delErr))
		}
		return Ref{}, fmt.Errorf("insert vector record: %w", err)
	}

	if _, err := h.graph.UpsertNode(ctx, "", nodeID, map[string]any{graphstore.PropVectorID: vectorID}); err != nil {
		if delErr := h.vectors.Delete(ctx, vectorID); delErr != nil {
			h.log.Error("rollback vector delete failed", zap.String("vector_id", vectorID), zap.Error(delErr))
		}
		if delErr := h.graph.DeleteNode(ctx, nodeID); delErr != nil {
			h.log.Error("rollback node delete failed", zap.String("node_id", nodeID), zap.Error(delErr))
		}
		return Ref{}, fmt.Errorf("back-link node: %w", err)
	}

	for _, link := range meta.GraphLinks {
		if err := h.applyLink(ctx, nodeID, link); err != nil {
			h.log.Warn("graph link failed",
				zap.String("from", nodeID),
				zap.String("target", link.Target),
				zap.String("type", link.Type),
				zap.Error(err))
		}
	}

	return Ref{VectorID: vectorID, GraphEntityID: nodeID}, nil
}

func (h *Hybrid) applyLink(ctx context.Context, from string, link GraphLink) error {
	if link.Target == "" || link.Type == "" {
		return fmt.Errorf("link needs type and target: %w", memory.ErrInvalidArgument)
	}

	if _, err := h.graph.GetNode(ctx, link.Target); err != nil {
		if !errors.Is(err, memory.ErrNotFound) {
			return err
		}
		props := map[string]any{"placeholder": true, "name": link.Target}
		if _, err := h.graph.UpsertNode(ctx, inferLabel(link.Target), link.Target, props); err != nil {
			return fmt.Errorf("create placeholder %q: %w", link.Target, err)
		}
	}

	_, err := h.graph.UpsertEdge(ctx, from, link.Target, link.Type, link.Properties)
	return err
}

// Remove deletes a fact from both backends by vector id. Missing pieces
// are tolerated.
func (h *Hybrid) Remove(ctx context.Context, vectorID string) error {
	rec, err := h.vectors.Get(ctx, vectorID)
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		return err
	}
	if err == nil {
		if nodeID := rec.Metadata["graph_entity_id"]; nodeID != "" {
			if err := h.graph.DeleteNode(ctx, nodeID); err != nil {
				return fmt.Errorf("delete graph node: %w", err)
			}
		}
	}
	return h.vectors.Delete(ctx, vectorID)
}

// Query retrieves facts per the requested strategy. Strategy defaults to
// VectorFirst; TopK defaults to 5.
func (h *Hybrid) Query(ctx context.Context, q Query) (Result, error) {
	if q.TopK <= 0 {
		q.TopK = 5
	}
	if q.ExpandDepth <= 0 {
		q.ExpandDepth = DefaultExpandDepth
	}

	switch q.Strategy {
	case VectorOnly:
		return h.vectorOnly(ctx, q)
	case GraphOnly:
		return h.graphOnly(ctx, q)
	case GraphFirst:
		return h.graphFirst(ctx, q)
	case Parallel:
		return h.parallel(ctx, q)
	case VectorFirst, "":
		return h.vectorFirst(ctx, q)
	default:
		return Result{}, fmt.Errorf("ltm strategy %q: %w", q.Strategy, memory.ErrInvalidArgument)
	}
}

func (h *Hybrid) vectorOnly(ctx context.Context, q Query) (Result, error) {
	if q.Embedding == nil {
		return Result{}, nil
	}
	matches, err := h.vectors.Search(ctx, q.Embedding, q.TopK, q.Filter)
	if err != nil {
		return Result{}, fmt.Errorf("vector search: %w", err)
	}
	items := make([]Item, len(matches))
	for i, m := range matches {
		items[i] = vectorItem(m)
	}
	return Result{Items: items}, nil
}

func (h *Hybrid) graphOnly(ctx context.Context, q Query) (Result, error) {
	rows, err := h.graphRows(ctx, q)
	if err != nil {
		return Result{}, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, graphItem(row))
	}
	sortItems(items)
	return Result{Items: clip(items, q.TopK)}, nil
}

func (h *Hybrid) vectorFirst(ctx context.Context, q Query) (Result, error) {
	base, err := h.vectorOnly(ctx, q)
	if err != nil {
		return Result{}, err
	}

	items := base.Items
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[it.GraphEntityID] = true
	}

	degraded := false
	for _, it := range base.Items {
		if it.GraphEntityID == "" {
			continue
		}
		rows, err := h.graph.Neighbors(ctx, it.GraphEntityID, graphstore.NeighborOptions{
			Direction: graphstore.DirectionBoth,
			MaxDepth:  q.ExpandDepth,
		})
		if err != nil {
			if errors.Is(err, memory.ErrDimensionMismatch) {
				return Result{}, err
			}
			if errors.Is(err, memory.ErrNotFound) {
				continue
			}
			// Graph side down; serve the vector results alone.
			h.log.Warn("graph expansion unavailable", zap.Error(err))
			degraded = true
			break
		}
		for _, row := range rows {
			if seen[row.Node.ID] {
				continue
			}
			seen[row.Node.ID] = true
			items = append(items, graphItem(row))
		}
	}

	sortItems(items)
	return Result{Items: clip(items, q.TopK), Degraded: degraded}, nil
}

func (h *Hybrid) graphFirst(ctx context.Context, q Query) (Result, error) {
	rows, err := h.graphRows(ctx, q)
	if err != nil {
		return Result{}, err
	}

	items := make([]Item, 0, len(rows))
	degraded := false
	for _, row := range rows {
		item := graphItem(row)
		if vid := row.Node.VectorID(); vid != "" && !degraded {
			rec, err := h.vectors.Get(ctx, vid)
			switch {
			case err == nil:
				item.Content = rec.Content
				item.Metadata = rec.Metadata
				item.Source = SourceBoth
			case errors.Is(err, memory.ErrNotFound):
				// Stale back-link; keep the graph view.
			default:
				h.log.Warn("vector enrichment unavailable", zap.Error(err))
				degraded = true
			}
		}
		items = append(items, item)
	}

	sortItems(items)
	return Result{Items: clip(items, q.TopK), Degraded: degraded}, nil
}

func (h *Hybrid) parallel(ctx context.Context, q Query) (Result, error) {
	var (
		matches []vectorstore.Match
		rows    []graphstore.Row
		vecErr  error
		gErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if q.Embedding == nil {
			return nil
		}
		matches, vecErr = h.vectors.Search(gctx, q.Embedding, q.TopK, q.Filter)
		return nil
	})
	g.Go(func() error {
		rows, gErr = h.graphRows(gctx, q)
		return nil
	})
	_ = g.Wait()

	if vecErr != nil && gErr != nil {
		return Result{}, fmt.Errorf("both backends failed: vector: %v: %w", vecErr, gErr)
	}
	if vecErr != nil && errors.Is(vecErr, memory.ErrDimensionMismatch) {
		return Result{}, vecErr
	}

	byNode := make(map[string]int)
	items := make([]Item, 0, len(matches)+len(rows))
	for _, m := range matches {
		item := vectorItem(m)
		if item.GraphEntityID != "" {
			byNode[item.GraphEntityID] = len(items)
		}
		items = append(items, item)
	}
	for _, row := range rows {
		if idx, ok := byNode[row.Node.ID]; ok {
			items[idx].Source = SourceBoth
			items[idx].PathLength = row.Depth
			continue
		}
		items = append(items, graphItem(row))
	}

	sortItems(items)
	return Result{Items: clip(items, q.TopK), Degraded: vecErr != nil || gErr != nil}, nil
}

// graphRows resolves the graph side of a query: the explicit Graph query
// when set, otherwise name lookups derived from the keywords.
func (h *Hybrid) graphRows(ctx context.Context, q Query) ([]graphstore.Row, error) {
	if q.Graph != nil {
		rows, err := h.graph.Query(ctx, *q.Graph)
		if err != nil {
			return nil, fmt.Errorf("graph query: %w", err)
		}
		return rows, nil
	}

	seen := make(map[string]bool)
	var rows []graphstore.Row
	for _, kw := range q.Keywords {
		found, err := h.graph.Query(ctx, graphstore.Query{
			Template: graphstore.FindByProperty,
			Key:      "name",
			Value:    kw,
			Limit:    q.TopK,
		})
		if err != nil {
			return nil, fmt.Errorf("graph lookup %q: %w", kw, err)
		}
		for _, row := range found {
			if seen[row.Node.ID] {
				continue
			}
			seen[row.Node.ID] = true
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Related returns the graph neighborhood of a stored fact, enriched with
// vector content where available.
func (h *Hybrid) Related(ctx context.Context, vectorID string, depth int) ([]Item, error) {
	rec, err := h.vectors.Get(ctx, vectorID)
	if err != nil {
		return nil, err
	}
	nodeID := rec.Metadata["graph_entity_id"]
	if nodeID == "" {
		return nil, nil
	}

	rows, err := h.graph.Neighbors(ctx, nodeID, graphstore.NeighborOptions{
		Direction: graphstore.DirectionBoth,
		MaxDepth:  max(depth, 1),
	})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		item := graphItem(row)
		if vid := row.Node.VectorID(); vid != "" {
			if linked, err := h.vectors.Get(ctx, vid); err == nil {
				item.Content = linked.Content
				item.Source = SourceBoth
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// FindPath returns the nodes on a shortest path between two stored graph
// entities.
func (h *Hybrid) FindPath(ctx context.Context, fromNodeID, toNodeID string, maxDepth int) ([]graphstore.Row, error) {
	return h.graph.Query(ctx, graphstore.Query{
		Template: graphstore.ShortestPath,
		StartID:  fromNodeID,
		EndID:    toNodeID,
		MaxDepth: maxDepth,
	})
}

// Count returns the number of stored facts.
func (h *Hybrid) Count(ctx context.Context) (int, error) {
	return h.vectors.Count(ctx)
}

func (h *Hybrid) labelFor(category string) string {
	if label, ok := h.labels[strings.ToLower(category)]; ok {
		return label
	}
	return graphstore.LabelFact
}

func (h *Hybrid) nodeProps(content string, meta Metadata) map[string]any {
	props := map[string]any{
		"content":  content,
		"category": meta.Category,
	}
	if len(meta.Tags) > 0 {
		props["tags"] = strings.Join(meta.Tags, ",")
	}
	if meta.FilePath != "" {
		props["file_path"] = meta.FilePath
		props["line_start"] = meta.LineStart
		props["line_end"] = meta.LineEnd
	}
	if meta.Importance > 0 {
		props["importance"] = meta.Importance
	}
	if meta.ProjectID != "" {
		props["project_id"] = meta.ProjectID
	}
	return props
}

func (h *Hybrid) recordMeta(nodeID string, meta Metadata) map[string]string {
	out := map[string]string{
		"graph_entity_id": nodeID,
		"category":        meta.Category,
	}
	if len(meta.Tags) > 0 {
		out["tags"] = strings.Join(meta.Tags, ",")
	}
	if meta.FilePath != "" {
		out["file_path"] = meta.FilePath
	}
	if meta.Importance > 0 {
		out["importance"] = strconv.FormatFloat(meta.Importance, 'f', -1, 64)
	}
	if meta.ProjectID != "" {
		out["project_id"] = meta.ProjectID
	}
	return out
}

func inferLabel(target string) string {
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(target, p.prefix) {
			return p.label
		}
	}
	return graphstore.LabelFact
}

func vectorItem(m vectorstore.Match) Item {
	return Item{
		VectorID:      m.ID,
		GraphEntityID: m.Metadata["graph_entity_id"],
		Content:       m.Content,
		Score:         m.Score,
		Source:        SourceVector,
		Metadata:      m.Metadata,
	}
}

func graphItem(row graphstore.Row) Item {
	content, _ := row.Node.Properties["content"].(string)
	if content == "" {
		if name, ok := row.Node.Properties["name"].(string); ok {
			content = name
		}
	}
	return Item{
		GraphEntityID: row.Node.ID,
		VectorID:      row.Node.VectorID(),
		Content:       content,
		PathLength:    row.Depth,
		Source:        SourceGraph,
	}
}

// sortItems orders by vector score descending, then graph path length
// ascending, then recency descending. Ids are ULIDs, so lexicographic
// order tracks creation time.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].PathLength != items[j].PathLength {
			return items[i].PathLength < items[j].PathLength
		}
		return items[i].VectorID > items[j].VectorID
	})
}

func clip(items []Item, topK int) []Item {
	if topK > 0 && len(items) > topK {
		return items[:topK]
	}
	return items
}
