// Package stm implements short-term memory: a bounded FIFO of recent
// turns with TTL expiry and cosine search over stored embeddings. All
// operations are in-memory and never block on I/O.
package stm

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/memory"
)

const (
	// DefaultMaxSize is the default turn capacity.
	DefaultMaxSize = 10

	// DefaultTTL is the default turn lifetime. A zero TTL disables expiry.
	DefaultTTL = time.Hour
)

// Scored is a turn with its similarity against a query embedding.
// Similarity is 0 for turns without embeddings or when no query embedding
// was supplied.
type Scored struct {
	Turn       memory.Turn
	Similarity float32
}

// Memory is the short-term tier. A single RWMutex guards the turn buffer:
// writes are exclusive, reads are concurrent.
type Memory struct {
	maxSize int
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	turns []memory.Turn
}

// Option configures the tier.
type Option func(*Memory)

// WithLogger sets the logger; default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Memory) { m.log = log }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// New creates a short-term memory with the given capacity and TTL.
// maxSize <= 0 uses DefaultMaxSize; ttl < 0 uses DefaultTTL; ttl == 0
// disables expiry.
func New(maxSize int, ttl time.Duration, opts ...Option) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl < 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		maxSize: maxSize,
		ttl:     ttl,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add appends a turn, stamping CreatedAt when unset, and evicts the
// oldest turns beyond capacity. It returns the stored turn.
func (m *Memory) Add(turn memory.Turn) memory.Turn {
	if turn.ID == "" {
		turn.ID = memory.NewID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = m.now().UTC()
	}
	if turn.TokenEstimate == 0 {
		turn.TokenEstimate = memory.EstimateTokens(turn.Content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, turn)
	if evicted := len(m.turns) - m.maxSize; evicted > 0 {
		m.turns = append([]memory.Turn(nil), m.turns[evicted:]...)
		m.log.Debug("stm evicted turns", zap.Int("count", evicted))
	}
	return turn
}

// GetRecent returns up to n turns. Without a query embedding the last n
// turns come back in insertion order. With one, every live turn is scored
// by cosine similarity and the top n are returned, ties broken by the
// more recent turn; turns without embeddings score 0 and only fill the
// tail when fewer than n scored turns exist.
func (m *Memory) GetRecent(n int, queryEmbedding []float32) []Scored {
	if n <= 0 {
		return nil
	}

	m.mu.Lock()
	m.expireLocked()
	live := append([]memory.Turn(nil), m.turns...)
	m.mu.Unlock()

	if queryEmbedding == nil {
		if len(live) > n {
			live = live[len(live)-n:]
		}
		out := make([]Scored, len(live))
		for i, t := range live {
			out[i] = Scored{Turn: t}
		}
		return out
	}

	return rankByEmbedding(live, queryEmbedding, n, true)
}

// SearchByEmbedding returns the topK turns by cosine similarity against
// q. Turns without embeddings are skipped.
func (m *Memory) SearchByEmbedding(q []float32, topK int) []Scored {
	if topK <= 0 || q == nil {
		return nil
	}

	m.mu.Lock()
	m.expireLocked()
	live := append([]memory.Turn(nil), m.turns...)
	m.mu.Unlock()

	return rankByEmbedding(live, q, topK, false)
}

// RecentTurns returns a copy of the last n live turns in insertion order.
func (m *Memory) RecentTurns(n int) []memory.Turn {
	m.mu.Lock()
	m.expireLocked()
	live := append([]memory.Turn(nil), m.turns...)
	m.mu.Unlock()

	if n > 0 && len(live) > n {
		live = live[len(live)-n:]
	}
	return live
}

// Turns returns a copy of all live turns in insertion order.
func (m *Memory) Turns() []memory.Turn {
	return m.RecentTurns(0)
}

// Len returns the number of live turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	return len(m.turns)
}

// Clear removes all turns.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
}

// Restore replaces the buffer with turns, trimming to capacity from the
// front. Used by snapshot load.
func (m *Memory) Restore(turns []memory.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(turns) > m.maxSize {
		turns = turns[len(turns)-m.maxSize:]
	}
	m.turns = append([]memory.Turn(nil), turns...)
}

// expireLocked lazily purges turns past their TTL. Callers hold the write
// lock.
func (m *Memory) expireLocked() {
	if m.ttl == 0 || len(m.turns) == 0 {
		return
	}
	cutoff := m.now().Add(-m.ttl)
	idx := 0
	for idx < len(m.turns) && m.turns[idx].CreatedAt.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		m.turns = append([]memory.Turn(nil), m.turns[idx:]...)
		m.log.Debug("stm expired turns", zap.Int("count", idx))
	}
}

// rankByEmbedding scores turns against q and returns the top n. With
// fill, turns lacking embeddings pad the result (score 0, most recent
// first) when fewer than n scored turns exist.
func rankByEmbedding(turns []memory.Turn, q []float32, n int, fill bool) []Scored {
	scored := make([]Scored, 0, len(turns))
	var unscored []memory.Turn

	for _, t := range turns {
		if t.Embedding == nil {
			unscored = append(unscored, t)
			continue
		}
		sim, err := embedding.Similarity(q, t.Embedding)
		if err != nil {
			// Dimension mismatch is a misconfiguration; skip the turn
			// rather than poison the ranking.
			continue
		}
		scored = append(scored, Scored{Turn: t, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Turn.CreatedAt.After(scored[j].Turn.CreatedAt)
	})

	if len(scored) > n {
		scored = scored[:n]
	}

	if fill && len(scored) < n {
		// Most recent unembedded turns first.
		for i := len(unscored) - 1; i >= 0 && len(scored) < n; i-- {
			scored = append(scored, Scored{Turn: unscored[i]})
		}
	}
	return scored
}
