// Package embed generates vector embeddings for chunk and query text, either
// from a locally loaded ONNX sentence-transformer or a dependency-free
// placeholder used when the runtime is absent or disabled.
package embed

import (
	"context"
	"math"
)

const (
	// EmbeddingDimensions is the fixed output width every embedder in this
	// package must produce; the store's vector tables are declared with
	// this dimensionality and reject mismatches at load time.
	EmbeddingDimensions = 384

	// MaxSequenceLength is the longest token sequence the real embedder
	// will run inference on; longer texts are truncated.
	MaxSequenceLength = 256

	// MinBatchSize and MaxBatchSize bound EmbedBatch request sizes.
	MinBatchSize = 1
	MaxBatchSize = 256

	// DefaultBatchSize is used by callers that batch chunk content before
	// calling EmbedBatch.
	DefaultBatchSize = 32
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width this embedder produces.
	Dimensions() int

	// ModelName returns the model identifier, used for the symmetry
	// marker the store records alongside its vector tables.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases any resources (worker pool, inference session).
	Close() error
}

// normalizeVector L2-normalises v in place semantics, returning a new
// slice. A zero vector is returned unchanged.
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
