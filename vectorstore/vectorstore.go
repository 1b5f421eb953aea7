// Package vectorstore defines the semantic-search backend used by the
// long-term memory tier. The interface is backend-neutral: Memory is a
// linear-scan implementation good for tens of thousands of records, and
// the chromem subpackage wraps an embedded vector database. Production
// deployments can implement Store over any ANN index.
package vectorstore

import (
	"context"
)

// Record is a stored vector with its content and payload metadata.
// Content is immutable once inserted; metadata may be updated by backends
// that support it.
type Record struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Match is a search hit. Score is cosine similarity in [-1, 1]; callers
// rank higher-is-better.
type Match struct {
	Record
	Score float32 `json:"score"`
}

// Filter restricts search results to records whose metadata contains every
// listed key with an equal value. A nil Filter matches everything.
type Filter map[string]string

// Matches reports whether meta satisfies the filter.
func (f Filter) Matches(meta map[string]string) bool {
	for k, v := range f {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// Store is the vector storage backend.
//
// Search must be monotonic in topK: under identical data and query, the
// results for topK=5 are a prefix of the results for topK=10.
type Store interface {
	// Add inserts a record. Fails with ErrDimensionMismatch when the
	// embedding dimension is wrong and ErrConstraintViolation when the id
	// already exists.
	Add(ctx context.Context, rec Record) error

	// Get retrieves a record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Delete removes a record by id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Search returns up to topK records sorted by descending cosine
	// similarity against query, optionally restricted by filter.
	Search(ctx context.Context, query []float32, topK int, filter Filter) ([]Match, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
