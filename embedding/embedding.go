// Package embedding defines the text-to-vector capability used by every
// tier. Implementations: fallback (deterministic, no model), onnx
// (all-MiniLM-L6-v2 behind the onnx build tag). Production deployments can
// plug an API-based embedder behind the same interface.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/AgonDise/memory-layer-lab/memory"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Embedder converts text to unit-norm vectors of a fixed dimension.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts several texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Similarity returns the cosine similarity of u and v in [-1, 1].
// It returns ErrDimensionMismatch when the vectors differ in length and 0
// for zero vectors.
func Similarity(u, v []float32) (float32, error) {
	if len(u) != len(v) {
		return 0, fmt.Errorf("similarity: %d vs %d: %w", len(u), len(v), memory.ErrDimensionMismatch)
	}
	var dot, nu, nv float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		nu += float64(u[i]) * float64(u[i])
		nv += float64(v[i]) * float64(v[i])
	}
	if nu == 0 || nv == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(nu) * math.Sqrt(nv))), nil
}

// Normalize scales vec to unit L2 norm in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}

// CheckDimension verifies that vec has the expected dimension.
func CheckDimension(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("got %d-dim vector, want %d: %w", len(vec), want, memory.ErrDimensionMismatch)
	}
	return nil
}
