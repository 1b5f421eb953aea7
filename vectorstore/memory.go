package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/memory"
)

// Memory is an in-process Store backed by a linear scan. Scans are
// O(N·D) per search, which holds up well into tens of thousands of
// records; beyond that, use an ANN-backed implementation.
type Memory struct {
	dimensions int

	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory store for vectors of the given
// dimension.
func NewMemory(dimensions int) *Memory {
	return &Memory{
		dimensions: dimensions,
		records:    make(map[string]Record),
	}
}

// Add inserts a record.
func (s *Memory) Add(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("add: empty id: %w", memory.ErrInvalidArgument)
	}
	if err := embedding.CheckDimension(rec.Embedding, s.dimensions); err != nil {
		return fmt.Errorf("add %q: %w", rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("add %q: duplicate id: %w", rec.ID, memory.ErrConstraintViolation)
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Get retrieves a record by id.
func (s *Memory) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("get %q: %w", id, memory.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// Delete removes a record by id.
func (s *Memory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// UpdateMetadata replaces the metadata of an existing record. Content and
// embedding stay immutable.
func (s *Memory) UpdateMetadata(ctx context.Context, id string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("update metadata %q: %w", id, memory.ErrNotFound)
	}
	rec.Metadata = cloneMeta(meta)
	s.records[id] = rec
	return nil
}

// Search scans all records and returns the topK best cosine matches.
// Ties are broken by ascending id so that results are deterministic and
// monotonic in topK.
func (s *Memory) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("search: top_k must be positive: %w", memory.ErrInvalidArgument)
	}
	if err := embedding.CheckDimension(query, s.dimensions); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.records))
	for _, rec := range s.records {
		if !filter.Matches(rec.Metadata) {
			continue
		}
		score, err := embedding.Similarity(query, rec.Embedding)
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("search: %w", err)
		}
		matches = append(matches, Match{Record: cloneRecord(rec), Score: score})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of stored records.
func (s *Memory) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op for the in-memory store.
func (s *Memory) Close() error {
	return nil
}

func cloneRecord(rec Record) Record {
	out := rec
	if rec.Embedding != nil {
		out.Embedding = append([]float32(nil), rec.Embedding...)
	}
	out.Metadata = cloneMeta(rec.Metadata)
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
