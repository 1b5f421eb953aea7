package graphstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AgonDise/memory-layer-lab/memory"
)

// Memory is an in-process Store backed by adjacency lists. Traversals are
// breadth-first, so Neighbors and ShortestPath visit nodes in ascending
// hop order.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]Node
	out   map[string][]Edge
	in    map[string][]Edge
	edges map[string]Edge
}

// NewMemory creates an empty in-memory graph.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
		edges: make(map[string]Edge),
	}
}

// UpsertNode creates a node or merges properties into an existing one.
func (g *Memory) UpsertNode(ctx context.Context, label, id string, props map[string]any) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id != "" {
		if existing, ok := g.nodes[id]; ok {
			for k, v := range props {
				if existing.Properties == nil {
					existing.Properties = make(map[string]any)
				}
				existing.Properties[k] = v
			}
			if label != "" {
				existing.Label = label
			}
			g.nodes[id] = existing
			return id, nil
		}
	}

	if label == "" {
		return "", fmt.Errorf("upsert node: empty label: %w", memory.ErrConstraintViolation)
	}
	if id == "" {
		id = uuid.New().String()
	}

	node := Node{ID: id, Label: label, Properties: cloneProps(props)}
	g.nodes[id] = node
	return id, nil
}

// UpsertEdge creates or merges a directed typed edge.
func (g *Memory) UpsertEdge(ctx context.Context, from, to, edgeType string, props map[string]any) (string, error) {
	if edgeType == "" {
		return "", fmt.Errorf("upsert edge: empty type: %w", memory.ErrConstraintViolation)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return "", fmt.Errorf("upsert edge: from %q: %w", from, memory.ErrEndpointMissing)
	}
	if _, ok := g.nodes[to]; !ok {
		return "", fmt.Errorf("upsert edge: to %q: %w", to, memory.ErrEndpointMissing)
	}

	for _, e := range g.out[from] {
		if e.To == to && e.Type == edgeType {
			merged := g.edges[e.ID]
			for k, v := range props {
				if merged.Properties == nil {
					merged.Properties = make(map[string]any)
				}
				merged.Properties[k] = v
			}
			g.edges[e.ID] = merged
			g.replaceEdge(merged)
			return e.ID, nil
		}
	}

	edge := Edge{
		ID:         uuid.New().String(),
		From:       from,
		To:         to,
		Type:       edgeType,
		Properties: cloneProps(props),
	}
	g.edges[edge.ID] = edge
	g.out[from] = append(g.out[from], edge)
	g.in[to] = append(g.in[to], edge)
	return edge.ID, nil
}

func (g *Memory) replaceEdge(edge Edge) {
	for i, e := range g.out[edge.From] {
		if e.ID == edge.ID {
			g.out[edge.From][i] = edge
		}
	}
	for i, e := range g.in[edge.To] {
		if e.ID == edge.ID {
			g.in[edge.To][i] = edge
		}
	}
}

// GetNode retrieves a node by id.
func (g *Memory) GetNode(ctx context.Context, id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("get node %q: %w", id, memory.ErrNotFound)
	}
	return cloneNode(node), nil
}

// DeleteNode removes a node and its incident edges.
func (g *Memory) DeleteNode(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return nil
	}
	delete(g.nodes, id)

	for _, e := range g.out[id] {
		delete(g.edges, e.ID)
		g.in[e.To] = dropEdge(g.in[e.To], e.ID)
	}
	for _, e := range g.in[id] {
		delete(g.edges, e.ID)
		g.out[e.From] = dropEdge(g.out[e.From], e.ID)
	}
	delete(g.out, id)
	delete(g.in, id)
	return nil
}

// Neighbors returns nodes reachable from id with the paths that reached
// them.
func (g *Memory) Neighbors(ctx context.Context, id string, opts NeighborOptions) ([]Row, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("neighbors of %q: %w", id, memory.ErrNotFound)
	}
	return g.bfs(id, opts.EdgeType, opts.Direction, opts.MaxDepth, "", 0), nil
}

// Query executes a parameterized structural query.
func (g *Memory) Query(ctx context.Context, q Query) ([]Row, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch q.Template {
	case FindByProperty:
		return g.findByProperty(q), nil

	case FindByLabel:
		var rows []Row
		for _, node := range g.nodes {
			if node.Label == q.Label {
				rows = append(rows, Row{Node: cloneNode(node)})
			}
		}
		sortRows(rows)
		return limitRows(rows, q.Limit), nil

	case Traverse:
		if _, ok := g.nodes[q.StartID]; !ok {
			return nil, fmt.Errorf("traverse from %q: %w", q.StartID, memory.ErrNotFound)
		}
		depth := q.MaxDepth
		if depth <= 0 {
			depth = 1
		}
		rows := g.bfs(q.StartID, q.EdgeType, q.Direction, depth, "", 0)
		return limitRows(rows, q.Limit), nil

	case ShortestPath:
		if _, ok := g.nodes[q.StartID]; !ok {
			return nil, fmt.Errorf("shortest path from %q: %w", q.StartID, memory.ErrNotFound)
		}
		if _, ok := g.nodes[q.EndID]; !ok {
			return nil, fmt.Errorf("shortest path to %q: %w", q.EndID, memory.ErrNotFound)
		}
		maxLen := q.MaxDepth
		if maxLen <= 0 {
			maxLen = 5
		}
		rows := g.bfs(q.StartID, q.EdgeType, DirectionBoth, maxLen, q.EndID, 0)
		for _, row := range rows {
			if row.Node.ID == q.EndID {
				return pathRows(row, g.nodes), nil
			}
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("query template %q: %w", q.Template, memory.ErrInvalidArgument)
	}
}

func (g *Memory) findByProperty(q Query) []Row {
	var rows []Row
	for _, node := range g.nodes {
		if q.Label != "" && node.Label != q.Label {
			continue
		}
		if node.Properties == nil || node.Properties[q.Key] != q.Value {
			continue
		}
		rows = append(rows, Row{Node: cloneNode(node)})
	}
	sortRows(rows)
	return limitRows(rows, q.Limit)
}

// bfs walks the graph from start up to maxDepth hops. When target is
// non-empty the walk stops as soon as the target is found.
func (g *Memory) bfs(start, edgeType string, dir Direction, maxDepth int, target string, limit int) []Row {
	type state struct {
		id   string
		path []string
	}

	visited := map[string]bool{start: true}
	queue := []state{{id: start, path: []string{start}}}
	var rows []Row

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		depth := len(cur.path) - 1
		if depth >= maxDepth {
			continue
		}

		for _, next := range g.adjacent(cur.id, edgeType, dir) {
			if visited[next] {
				continue
			}
			visited[next] = true

			path := append(append([]string(nil), cur.path...), next)
			node := g.nodes[next]
			rows = append(rows, Row{Node: cloneNode(node), Path: path, Depth: len(path) - 1})
			if target != "" && next == target {
				return rows
			}
			if limit > 0 && len(rows) >= limit {
				return rows
			}
			queue = append(queue, state{id: next, path: path})
		}
	}
	return rows
}

func (g *Memory) adjacent(id, edgeType string, dir Direction) []string {
	var next []string
	if dir == DirectionOut || dir == DirectionBoth {
		for _, e := range g.out[id] {
			if edgeType == "" || e.Type == edgeType {
				next = append(next, e.To)
			}
		}
	}
	if dir == DirectionIn || dir == DirectionBoth {
		for _, e := range g.in[id] {
			if edgeType == "" || e.Type == edgeType {
				next = append(next, e.From)
			}
		}
	}
	sort.Strings(next)
	return next
}

// Close is a no-op for the in-memory graph.
func (g *Memory) Close(ctx context.Context) error {
	return nil
}

// pathRows expands a target row into one row per node on its path.
func pathRows(row Row, nodes map[string]Node) []Row {
	rows := make([]Row, 0, len(row.Path))
	for i, id := range row.Path {
		rows = append(rows, Row{
			Node:  cloneNode(nodes[id]),
			Path:  row.Path[:i+1],
			Depth: i,
		})
	}
	return rows
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Node.ID < rows[j].Node.ID })
}

func limitRows(rows []Row, limit int) []Row {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func dropEdge(edges []Edge, id string) []Edge {
	out := edges[:0]
	for _, e := range edges {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func cloneNode(n Node) Node {
	out := n
	out.Properties = cloneProps(n.Properties)
	return out
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
