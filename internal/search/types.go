// Package search implements the Hybrid Retriever: dense + sparse retrieval,
// Reciprocal Rank Fusion, optional cross-encoder rerank, and hydration
// against the Metadata Store.
package search

import (
	"context"
	"time"

	"github.com/nexuscore/nexus/internal/store"
)

// Retriever is the orchestrator's public contract.
type Retriever interface {
	// Search executes the hybrid pipeline and returns ranked, hydrated results.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error)

	// FindRelated returns dense-only near-neighbors of an existing chunk's
	// vector, excluding the chunk itself.
	FindRelated(ctx context.Context, chunkID string, limit int) ([]*SearchResult, error)

	Stats() EngineStats
	Close() error
}

// SearchOptions configures a single query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default 10).
	Limit int

	// Filters restricts results by the filter grammar (tag:/source:/kind:/
	// since:/path:), combined with any hint extracted from the query prefix
	// by MergeFilters (caller scalars replace hint scalars; tags are unioned).
	Filters store.ChunkFilter

	// UseRerank enables the cross-encoder rerank stage (default true).
	UseRerank bool

	DenseK  int
	SparseK int
	RerankK int
	Alpha   float64
}

// DefaultSearchOptions returns the documented default search options.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:     10,
		UseRerank: true,
		DenseK:    50,
		SparseK:   50,
		RerankK:   20,
		Alpha:     0.5,
	}
}

// SearchResult is one hydrated, ranked hit, carrying per-stage diagnostics
// for observability. Transient; never persisted.
type SearchResult struct {
	ChunkID     string
	Score       float64
	Text        string
	DocumentID  string
	URI         string
	SectionPath []string
	CharStart   int
	CharEnd     int

	DenseRank   int // 1-indexed, 0 if absent from dense results
	SparseRank  int // 1-indexed, 0 if absent from sparse results
	RerankScore float64
	RerankUsed  bool
}

// EngineStats summarizes the state of the underlying stores.
type EngineStats struct {
	Documents      int
	Chunks         int
	Vectors        int
	BM25Terms      int
	BM25DocCount   int
	IndexSizeBytes int64
}

// Config controls RRF weighting, candidate widths, and stage deadlines.
// Values are sourced from config.RetrievalConfig.
type Config struct {
	DenseK      int
	SparseK     int
	RerankK     int
	Alpha       float64
	RRFConstant int

	QueryDeadline  time.Duration
	EmbedBudget    time.Duration
	RetrieveBudget time.Duration
	RerankBudget   time.Duration
}

// DefaultConfig returns the documented default weights and stage budgets.
func DefaultConfig() Config {
	return Config{
		DenseK:         50,
		SparseK:        50,
		RerankK:        20,
		Alpha:          0.5,
		RRFConstant:    60,
		QueryDeadline:  2 * time.Second,
		EmbedBudget:    100 * time.Millisecond,
		RetrieveBudget: 200 * time.Millisecond,
		RerankBudget:   1500 * time.Millisecond,
	}
}
