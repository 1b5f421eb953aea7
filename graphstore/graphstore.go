// Package graphstore defines the property-graph backend used by the
// long-term memory tier: typed nodes, directed typed edges, and a small
// set of parameterized structural queries. Memory is an adjacency-list
// implementation; the neo4j subpackage maps the same interface onto
// Cypher.
package graphstore

import (
	"context"
)

// Node labels used by the engine. Categories outside the configured
// vocabulary map to LabelFact.
const (
	LabelFunction     = "Function"
	LabelModule       = "Module"
	LabelCommit       = "Commit"
	LabelBug          = "Bug"
	LabelConcept      = "Concept"
	LabelDoc          = "Doc"
	LabelGuideline    = "Guideline"
	LabelArchitecture = "Architecture"
	LabelSummary      = "Summary"
	LabelTopic        = "Topic"
	LabelFact         = "Fact"
)

// Edge types form the documented relation vocabulary.
const (
	EdgeCalls     = "CALLS"
	EdgeBelongsTo = "BELONGS_TO"
	EdgeModifies  = "MODIFIES"
	EdgeFixes     = "FIXES"
	EdgeAffects   = "AFFECTS"
	EdgeDependsOn = "DEPENDS_ON"
	EdgeRelatedTo = "RELATED_TO"
	EdgeMentions  = "MENTIONS"
)

// PropVectorID is the node property carrying the cross-link to a vector
// record.
const PropVectorID = "vector_id"

// Node is a labeled entity with typed properties.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// VectorID returns the vector cross-link, or "" when the node has none.
func (n Node) VectorID() string {
	if n.Properties == nil {
		return ""
	}
	if v, ok := n.Properties[PropVectorID].(string); ok {
		return v
	}
	return ""
}

// Edge is a directed typed relation between two nodes.
type Edge struct {
	ID         string         `json:"id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Direction selects which edges a traversal follows.
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
	DirectionBoth
)

// Template names a parameterized structural query.
type Template string

const (
	// FindByProperty returns nodes whose property Key equals Value,
	// optionally restricted to Label.
	FindByProperty Template = "find_by_property"

	// FindByLabel returns all nodes with the given Label.
	FindByLabel Template = "find_by_label"

	// Traverse returns nodes reachable from StartID within MaxDepth hops,
	// optionally following only EdgeType edges.
	Traverse Template = "traverse"

	// ShortestPath returns the nodes on a shortest undirected path from
	// StartID to EndID of length at most MaxDepth.
	ShortestPath Template = "shortest_path"
)

// Query carries a template and its parameters. Unused fields are ignored
// by templates that do not need them.
type Query struct {
	Template  Template
	Label     string
	Key       string
	Value     any
	StartID   string
	EndID     string
	EdgeType  string
	Direction Direction
	MaxDepth  int
	Limit     int
}

// Row is one result of a query or traversal. Path lists node ids from the
// start node to this node inclusive; Depth is len(Path)-1. Lookup
// templates leave Path nil and Depth 0.
type Row struct {
	Node  Node     `json:"node"`
	Path  []string `json:"path,omitempty"`
	Depth int      `json:"depth,omitempty"`
}

// NeighborOptions controls Neighbors traversals.
type NeighborOptions struct {
	// EdgeType restricts traversal to one edge type; empty follows all.
	EdgeType string

	// Direction defaults to DirectionBoth.
	Direction Direction

	// MaxDepth defaults to 1.
	MaxDepth int
}

// Store is the property-graph backend.
type Store interface {
	// UpsertNode creates a node or merges properties into an existing one.
	// An empty id generates one. Returns the node id. Fails with
	// ErrConstraintViolation on an empty label for a new node.
	UpsertNode(ctx context.Context, label, id string, props map[string]any) (string, error)

	// UpsertEdge creates a directed typed edge, merging properties when an
	// edge of the same (from, to, type) already exists. Fails with
	// ErrEndpointMissing when either node is absent.
	UpsertEdge(ctx context.Context, from, to, edgeType string, props map[string]any) (string, error)

	// GetNode retrieves a node by id, or ErrNotFound.
	GetNode(ctx context.Context, id string) (Node, error)

	// DeleteNode removes a node and its incident edges. Deleting a missing
	// id is not an error.
	DeleteNode(ctx context.Context, id string) error

	// Neighbors returns the nodes reachable from id per opts, each with
	// the path that reached it. Fails with ErrNotFound for a missing id.
	Neighbors(ctx context.Context, id string, opts NeighborOptions) ([]Row, error)

	// Query executes a parameterized structural query.
	Query(ctx context.Context, q Query) ([]Row, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
