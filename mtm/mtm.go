// Package mtm implements mid-term memory: a bounded FIFO of summary
// chunks searchable by embedding or by topic keywords. An optional graph
// mirror writes each chunk as a Summary node with MENTIONS edges to its
// topics, so summaries show up in graph traversals alongside long-term
// facts.
package mtm

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/graphstore"
	"github.com/AgonDise/memory-layer-lab/memory"
)

// DefaultMaxSize is the default chunk capacity.
const DefaultMaxSize = 20

// Scored is a chunk with its search score. For embedding search the score
// is cosine similarity; for keyword search it is topic Jaccard.
type Scored struct {
	Chunk memory.Chunk
	Score float32
}

// Memory is the mid-term tier.
type Memory struct {
	maxSize int
	mirror  graphstore.Store
	log     *zap.Logger

	mu     sync.RWMutex
	chunks []memory.Chunk
}

// Option configures the tier.
type Option func(*Memory)

// WithLogger sets the logger; default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Memory) { m.log = log }
}

// WithGraphMirror enables mirroring chunks into a graph store.
func WithGraphMirror(store graphstore.Store) Option {
	return func(m *Memory) { m.mirror = store }
}

// New creates a mid-term memory with the given chunk capacity.
func New(maxSize int, opts ...Option) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	m := &Memory{
		maxSize: maxSize,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddChunk appends a chunk, evicting the oldest beyond capacity, and
// mirrors it into the graph when a mirror is configured. Mirror failures
// are logged, never surfaced; eviction never touches graph or LTM
// derivatives. Returns the stored chunk.
func (m *Memory) AddChunk(ctx context.Context, chunk memory.Chunk) memory.Chunk {
	if chunk.ID == "" {
		chunk.ID = memory.NewID()
	}

	if m.mirror != nil {
		if id, err := m.mirrorChunk(ctx, chunk); err != nil {
			m.log.Warn("mtm graph mirror failed", zap.String("chunk_id", chunk.ID), zap.Error(err))
		} else {
			chunk.GraphMirrorID = id
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.chunks = append(m.chunks, chunk)
	if evicted := len(m.chunks) - m.maxSize; evicted > 0 {
		m.chunks = append([]memory.Chunk(nil), m.chunks[evicted:]...)
		m.log.Debug("mtm evicted chunks", zap.Int("count", evicted))
	}
	return chunk
}

// mirrorChunk upserts a Summary node for the chunk plus MENTIONS edges to
// one Topic node per topic.
func (m *Memory) mirrorChunk(ctx context.Context, chunk memory.Chunk) (string, error) {
	nodeID, err := m.mirror.UpsertNode(ctx, graphstore.LabelSummary, "summary_"+chunk.ID, map[string]any{
		"summary":       chunk.Summary,
		"importance":    chunk.Importance,
		"message_count": chunk.MessageCount,
		"created_at":    chunk.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return "", err
	}

	for _, topic := range chunk.Topics {
		topicID := "topic_" + strings.ReplaceAll(strings.ToLower(topic), " ", "_")
		if _, err := m.mirror.UpsertNode(ctx, graphstore.LabelTopic, topicID, map[string]any{"name": topic}); err != nil {
			return "", err
		}
		if _, err := m.mirror.UpsertEdge(ctx, nodeID, topicID, graphstore.EdgeMentions, nil); err != nil {
			return "", err
		}
	}
	return nodeID, nil
}

// GetRecentChunks returns the last n chunks in insertion order.
func (m *Memory) GetRecentChunks(n int) []memory.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := m.chunks
	if n > 0 && len(chunks) > n {
		chunks = chunks[len(chunks)-n:]
	}
	return append([]memory.Chunk(nil), chunks...)
}

// SearchByEmbedding ranks chunks by cosine similarity against q. Chunks
// without embeddings score 0 and only fill the tail when fewer than topK
// scored chunks exist. Ties go to the more recent chunk.
func (m *Memory) SearchByEmbedding(q []float32, topK int) []Scored {
	if topK <= 0 || q == nil {
		return nil
	}

	m.mu.RLock()
	chunks := append([]memory.Chunk(nil), m.chunks...)
	m.mu.RUnlock()

	scored := make([]Scored, 0, len(chunks))
	var unscored []memory.Chunk
	for _, c := range chunks {
		if c.Embedding == nil {
			unscored = append(unscored, c)
			continue
		}
		sim, err := embedding.Similarity(q, c.Embedding)
		if err != nil {
			continue
		}
		scored = append(scored, Scored{Chunk: c, Score: sim})
	}

	sortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	for i := len(unscored) - 1; i >= 0 && len(scored) < topK; i-- {
		scored = append(scored, Scored{Chunk: unscored[i]})
	}
	return scored
}

// SearchByKeywords ranks chunks by the Jaccard similarity of their topics
// with the query keywords. Ties go to the more recent chunk.
func (m *Memory) SearchByKeywords(keywords []string, topK int) []Scored {
	if topK <= 0 || len(keywords) == 0 {
		return nil
	}

	query := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		query[strings.ToLower(kw)] = true
	}

	m.mu.RLock()
	chunks := append([]memory.Chunk(nil), m.chunks...)
	m.mu.RUnlock()

	scored := make([]Scored, 0, len(chunks))
	for _, c := range chunks {
		if score := jaccard(query, c.Topics); score > 0 {
			scored = append(scored, Scored{Chunk: c, Score: score})
		}
	}

	sortScored(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Len returns the number of chunks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Chunks returns a copy of all chunks in insertion order.
func (m *Memory) Chunks() []memory.Chunk {
	return m.GetRecentChunks(0)
}

// Clear removes all chunks. Graph mirror nodes and LTM derivatives are
// left in place.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = nil
}

// Restore replaces the buffer with chunks, trimming to capacity from the
// front. Used by snapshot load; no mirroring happens.
func (m *Memory) Restore(chunks []memory.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(chunks) > m.maxSize {
		chunks = chunks[len(chunks)-m.maxSize:]
	}
	m.chunks = append([]memory.Chunk(nil), chunks...)
}

func sortScored(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.CreatedAt.After(scored[j].Chunk.CreatedAt)
	})
}

func jaccard(query map[string]bool, topics []string) float32 {
	if len(query) == 0 || len(topics) == 0 {
		return 0
	}

	topicSet := make(map[string]bool, len(topics))
	for _, t := range topics {
		topicSet[strings.ToLower(t)] = true
	}

	var inter int
	for kw := range query {
		if topicSet[kw] {
			inter++
		}
	}
	union := len(query) + len(topicSet) - inter
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}
