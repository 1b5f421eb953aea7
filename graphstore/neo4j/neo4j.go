// Package neo4j implements graphstore.Store over the Neo4j bolt driver.
// The engine never writes raw Cypher; the Query templates map onto fixed
// parameterized statements here.
package neo4j

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/graphstore"
	"github.com/AgonDise/memory-layer-lab/memory"
)

// identPattern guards label and relationship names spliced into Cypher;
// they cannot be bound as parameters.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures the Neo4j-backed store.
type Config struct {
	// URI is the bolt endpoint, e.g. "bolt://localhost:7687".
	URI string

	// Username and Password for basic auth.
	Username string
	Password string

	// Database selects the Neo4j database; empty uses the default.
	Database string

	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Store talks to a Neo4j server.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	log      *zap.Logger
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %v: %w", err, memory.ErrBackendUnavailable)
	}

	cfg.Logger.Info("neo4j graph store connected", zap.String("uri", cfg.URI))
	return &Store{driver: driver, database: cfg.Database, log: cfg.Logger}, nil
}

func (s *Store) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, fmt.Errorf("cypher: %v: %w", err, memory.ErrBackendUnavailable)
	}
	return result, nil
}

// UpsertNode creates a node or merges properties into an existing one.
func (s *Store) UpsertNode(ctx context.Context, label, id string, props map[string]any) (string, error) {
	if id == "" {
		if label == "" {
			return "", fmt.Errorf("upsert node: empty label: %w", memory.ErrConstraintViolation)
		}
		id = newID()
	}

	if label == "" {
		// Merge into an existing node regardless of label.
		_, err := s.run(ctx, `MATCH (n {id: $id}) SET n += $props RETURN n.id`, map[string]any{
			"id": id, "props": nonNilProps(props),
		})
		return id, err
	}

	if !identPattern.MatchString(label) {
		return "", fmt.Errorf("upsert node: label %q: %w", label, memory.ErrConstraintViolation)
	}

	cypher := fmt.Sprintf(`MERGE (n:%s {id: $id}) SET n += $props RETURN n.id`, label)
	_, err := s.run(ctx, cypher, map[string]any{"id": id, "props": nonNilProps(props)})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpsertEdge creates or merges a directed typed edge.
func (s *Store) UpsertEdge(ctx context.Context, from, to, edgeType string, props map[string]any) (string, error) {
	if !identPattern.MatchString(edgeType) {
		return "", fmt.Errorf("upsert edge: type %q: %w", edgeType, memory.ErrConstraintViolation)
	}

	cypher := fmt.Sprintf(`
		MATCH (a {id: $from})
		MATCH (b {id: $to})
		MERGE (a)-[r:%s]->(b)
		SET r += $props
		RETURN elementId(r) AS eid`, edgeType)
	result, err := s.run(ctx, cypher, map[string]any{
		"from": from, "to": to, "props": nonNilProps(props),
	})
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("upsert edge %s-[%s]->%s: %w", from, edgeType, to, memory.ErrEndpointMissing)
	}
	eid, _ := result.Records[0].Get("eid")
	id, _ := eid.(string)
	return id, nil
}

// GetNode retrieves a node by id.
func (s *Store) GetNode(ctx context.Context, id string) (graphstore.Node, error) {
	result, err := s.run(ctx, `MATCH (n {id: $id}) RETURN n`, map[string]any{"id": id})
	if err != nil {
		return graphstore.Node{}, err
	}
	if len(result.Records) == 0 {
		return graphstore.Node{}, fmt.Errorf("get node %q: %w", id, memory.ErrNotFound)
	}
	return recordNode(result.Records[0], "n")
}

// DeleteNode removes a node and its incident edges.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	_, err := s.run(ctx, `MATCH (n {id: $id}) DETACH DELETE n`, map[string]any{"id": id})
	return err
}

// Neighbors returns nodes reachable from id per opts.
func (s *Store) Neighbors(ctx context.Context, id string, opts graphstore.NeighborOptions) ([]graphstore.Row, error) {
	if _, err := s.GetNode(ctx, id); err != nil {
		return nil, err
	}

	depth := opts.MaxDepth
	if depth <= 0 {
		depth = 1
	}

	rel := ""
	if opts.EdgeType != "" {
		if !identPattern.MatchString(opts.EdgeType) {
			return nil, fmt.Errorf("neighbors: edge type %q: %w", opts.EdgeType, memory.ErrConstraintViolation)
		}
		rel = ":" + opts.EdgeType
	}

	var pattern string
	switch opts.Direction {
	case graphstore.DirectionOut:
		pattern = fmt.Sprintf(`-[%s*1..%d]->`, rel, depth)
	case graphstore.DirectionIn:
		pattern = fmt.Sprintf(`<-[%s*1..%d]-`, rel, depth)
	default:
		pattern = fmt.Sprintf(`-[%s*1..%d]-`, rel, depth)
	}

	cypher := fmt.Sprintf(`
		MATCH p = (start {id: $id})%s(m)
		WHERE m.id <> $id
		WITH m, p ORDER BY length(p)
		WITH m, head(collect(p)) AS sp
		RETURN m, [x IN nodes(sp) | x.id] AS path, length(sp) AS depth`, pattern)

	result, err := s.run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return recordRows(result.Records, "m")
}

// Query executes a parameterized structural query.
func (s *Store) Query(ctx context.Context, q graphstore.Query) ([]graphstore.Row, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	switch q.Template {
	case graphstore.FindByProperty:
		match := "(n)"
		if q.Label != "" {
			if !identPattern.MatchString(q.Label) {
				return nil, fmt.Errorf("query: label %q: %w", q.Label, memory.ErrConstraintViolation)
			}
			match = fmt.Sprintf("(n:%s)", q.Label)
		}
		cypher := fmt.Sprintf(`MATCH %s WHERE n[$key] = $value RETURN n ORDER BY n.id LIMIT %d`, match, limit)
		result, err := s.run(ctx, cypher, map[string]any{"key": q.Key, "value": q.Value})
		if err != nil {
			return nil, err
		}
		return recordRows(result.Records, "n")

	case graphstore.FindByLabel:
		if !identPattern.MatchString(q.Label) {
			return nil, fmt.Errorf("query: label %q: %w", q.Label, memory.ErrConstraintViolation)
		}
		cypher := fmt.Sprintf(`MATCH (n:%s) RETURN n ORDER BY n.id LIMIT %d`, q.Label, limit)
		result, err := s.run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		return recordRows(result.Records, "n")

	case graphstore.Traverse:
		return s.Neighbors(ctx, q.StartID, graphstore.NeighborOptions{
			EdgeType:  q.EdgeType,
			Direction: q.Direction,
			MaxDepth:  q.MaxDepth,
		})

	case graphstore.ShortestPath:
		maxLen := q.MaxDepth
		if maxLen <= 0 {
			maxLen = 5
		}
		cypher := fmt.Sprintf(`
			MATCH (a {id: $start}), (b {id: $end})
			MATCH sp = shortestPath((a)-[*..%d]-(b))
			UNWIND range(0, length(sp)) AS i
			WITH nodes(sp)[i] AS n, [x IN nodes(sp)[0..i+1] | x.id] AS path, i AS depth
			RETURN n, path, depth`, maxLen)
		result, err := s.run(ctx, cypher, map[string]any{"start": q.StartID, "end": q.EndID})
		if err != nil {
			return nil, err
		}
		return recordRows(result.Records, "n")

	default:
		return nil, fmt.Errorf("query template %q: %w", q.Template, memory.ErrInvalidArgument)
	}
}

// Close shuts down the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func recordRows(records []*neo4j.Record, key string) ([]graphstore.Row, error) {
	rows := make([]graphstore.Row, 0, len(records))
	for _, rec := range records {
		node, err := recordNode(rec, key)
		if err != nil {
			return nil, err
		}
		row := graphstore.Row{Node: node}
		if v, ok := rec.Get("path"); ok {
			if raw, ok := v.([]any); ok {
				for _, p := range raw {
					if id, ok := p.(string); ok {
						row.Path = append(row.Path, id)
					}
				}
			}
		}
		if v, ok := rec.Get("depth"); ok {
			if d, ok := v.(int64); ok {
				row.Depth = int(d)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func recordNode(rec *neo4j.Record, key string) (graphstore.Node, error) {
	v, ok := rec.Get(key)
	if !ok {
		return graphstore.Node{}, fmt.Errorf("record missing %q", key)
	}
	dbNode, ok := v.(dbtype.Node)
	if !ok {
		return graphstore.Node{}, fmt.Errorf("record %q is not a node", key)
	}

	node := graphstore.Node{Properties: dbNode.Props}
	if len(dbNode.Labels) > 0 {
		node.Label = dbNode.Labels[0]
	}
	if id, ok := dbNode.Props["id"].(string); ok {
		node.ID = id
	}
	return node, nil
}

func newID() string {
	return uuid.New().String()
}

func nonNilProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}
