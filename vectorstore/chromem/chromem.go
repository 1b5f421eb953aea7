// Package chromem implements vectorstore.Store over chromem-go, a pure Go
// embedded vector database. Use it when the record count outgrows the
// linear-scan store or when on-disk persistence is wanted.
package chromem

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/AgonDise/memory-layer-lab/embedding"
	"github.com/AgonDise/memory-layer-lab/memory"
	"github.com/AgonDise/memory-layer-lab/vectorstore"
)

const collectionName = "ltm_records"

// Store wraps a chromem-go collection.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimensions int
	log        *zap.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the logger; default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates an in-memory chromem store.
func New(dimensions int, opts ...Option) (*Store, error) {
	return newStore(chromem.NewDB(), dimensions, opts...)
}

// NewPersistent creates a chromem store persisted under dir.
func NewPersistent(dir string, dimensions int, opts ...Option) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	return newStore(db, dimensions, opts...)
}

func newStore(db *chromem.DB, dimensions int, opts ...Option) (*Store, error) {
	s := &Store{db: db, dimensions: dimensions, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collection = col
	return s, nil
}

// Add inserts a record.
func (s *Store) Add(ctx context.Context, rec vectorstore.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("add: empty id: %w", memory.ErrInvalidArgument)
	}
	if err := embedding.CheckDimension(rec.Embedding, s.dimensions); err != nil {
		return fmt.Errorf("add %q: %w", rec.ID, err)
	}
	if _, err := s.collection.GetByID(ctx, rec.ID); err == nil {
		return fmt.Errorf("add %q: duplicate id: %w", rec.ID, memory.ErrConstraintViolation)
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  rec.Metadata,
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	s.log.Debug("stored vector record", zap.String("id", rec.ID))
	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (vectorstore.Record, error) {
	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return vectorstore.Record{}, fmt.Errorf("get %q: %w", id, memory.ErrNotFound)
	}
	return vectorstore.Record{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: doc.Embedding,
		Metadata:  doc.Metadata,
	}, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		// chromem reports missing ids as errors; absence is fine here.
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("delete %q: %w", id, err)
	}
	return nil
}

// Search returns the topK best cosine matches. chromem rejects nResults
// larger than the collection, so topK is clamped to the current count.
func (s *Store) Search(ctx context.Context, query []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("search: top_k must be positive: %w", memory.ErrInvalidArgument)
	}
	if err := embedding.CheckDimension(query, s.dimensions); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.QueryEmbedding(ctx, query, topK, map[string]string(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, vectorstore.Match{
			Record: vectorstore.Record{
				ID:        r.ID,
				Content:   r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Score: r.Similarity,
		})
	}
	return matches, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op; chromem flushes on write.
func (s *Store) Close() error {
	return nil
}
