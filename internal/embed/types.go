// Package embed turns text into vectors for the HNSW index.
//
// Two providers exist: a deterministic hashing embedder that needs no
// network, and an OpenAI-compatible embedder built on langchaingo. Either
// can be wrapped in an LRU cache.
package embed

import (
	"context"
	"math"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// StaticDimensions is the default dimension of the hashing embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
// Implementations are safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	// Available reports whether the embedder can serve requests.
	Available(ctx context.Context) bool
	Close() error
}

// normalizeVector returns v scaled to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
