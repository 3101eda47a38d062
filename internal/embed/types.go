// Package embed provides the embedding abstraction the core embeds chunks
// and queries through, plus a deterministic hash-based implementation that
// needs no model download or network access.
package embed

import (
	"context"
	"math"
)

// DefaultBatchSize bounds how many texts a single EmbedBatch call handles
// before the caller should split further.
const DefaultBatchSize = 32

// Embedder generates vector embeddings for text. The same text must embed
// to the same vector across calls and across process restarts — the
// Vector Store's dimension and metric are fixed at construction against
// whatever Embedder the core is configured with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelID returns the model identifier recorded alongside every
	// embedding; a query against a Vector Store built with a different
	// model id is a ConfigError.
	ModelID() string

	Close() error
}

// normalizeVector returns a unit-length copy of v. A zero vector is
// returned unchanged since it has no direction to normalize to.
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
