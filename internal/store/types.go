// Package store provides the durable metadata store (SQLite) and the
// dense vector store (HNSW) for the hybrid retrieval core.
package store

import (
	"context"
	"fmt"
	"time"
)

// SourceKind enumerates where a Source's content originates from.
type SourceKind string

const (
	SourceKindDirectory SourceKind = "directory"
	SourceKindFile      SourceKind = "file"
	SourceKindAPI       SourceKind = "api"
	SourceKindAdHoc     SourceKind = "ad-hoc"
)

// Source is a registered content origin. It owns zero or more Documents and
// is never deleted implicitly; deleting a Source cascades to its Documents.
type Source struct {
	ID        string
	Kind      SourceKind
	Root      string // path or URI
	CreatedAt time.Time
	LastScan  time.Time
}

// Document is one original unit of content: one markdown file, one PDF, one
// ingested blob. (source_id, uri) is unique; Document is mutated on
// re-ingest when ContentHash differs.
type Document struct {
	ID           string
	SourceID     string
	URI          string
	Title        string
	ContentHash  string // hex SHA-256 of the raw bytes, not canonicalized
	ByteSize     int64
	MTime        time.Time
	Tags         []string
	Frontmatter  map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is the smallest retrievable unit. chunk_id is a deterministic
// function of (document_id, ordinal, canonical text); within a document,
// chunks are contiguous in CharStart order.
type Chunk struct {
	ID               string
	DocumentID       string
	Ordinal          int
	Text             string
	CharStart        int
	CharEnd          int
	SectionPath      []string
	TokenCount       int
	EmbeddingVersion int
	IndexedAt        time.Time
}

// UpsertOutcome describes what upsert_document did.
type UpsertOutcome string

const (
	OutcomeUnchanged UpsertOutcome = "unchanged"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeCreated   UpsertOutcome = "created"
)

// ChunkFilter narrows list_chunks/search results. Clauses are conjunctive
// (AND); zero-value fields are not applied.
type ChunkFilter struct {
	SourceID          string
	DocumentID        string
	Tags              []string // set-membership: chunk's document must carry at least one
	Kind              SourceKind
	Since             time.Time // indexed_at >= Since
	SectionPathPrefix string    // glob-like prefix match on joined section path
}

// IsZero reports whether the filter has no clauses set.
func (f ChunkFilter) IsZero() bool {
	return f.SourceID == "" && f.DocumentID == "" && len(f.Tags) == 0 &&
		f.Kind == "" && f.Since.IsZero() && f.SectionPathPrefix == ""
}

// Stats summarizes the content of the metadata store.
type Stats struct {
	Sources   int
	Documents int
	Chunks    int
}

// MetadataStore persists Sources, Documents, and Chunks, and is the system
// of record for the three-way consistency invariant with the Vector Store
// and BM25 Index.
type MetadataStore interface {
	UpsertSource(ctx context.Context, src *Source) error
	GetSource(ctx context.Context, id string) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)
	DeleteSource(ctx context.Context, id string) error // cascades to documents/chunks

	// UpsertDocument inserts or updates a document by (source_id, uri).
	// Returns the resolved document (with ID populated) and the outcome.
	UpsertDocument(ctx context.Context, doc *Document) (*Document, UpsertOutcome, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentByURI(ctx context.Context, sourceID, uri string) (*Document, error)
	DeleteDocument(ctx context.Context, id string) error // cascades to chunks

	// ReplaceChunks performs the transactional diff described in the
	// ingestion pipeline: it persists newChunks, removes any existing
	// chunk for the document not present in newChunks, and reports the
	// ids added/removed/kept.
	ReplaceChunks(ctx context.Context, documentID string, newChunks []*Chunk) (added, removed, kept []string, err error)
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error)
	ListChunks(ctx context.Context, filter ChunkFilter) ([]*Chunk, error)

	// AllChunkIDs enumerates every live chunk id, for consistency auditing
	// against the Vector Store and BM25 Index.
	AllChunkIDs(ctx context.Context) ([]string, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Embedding is a fixed-dimension float vector plus the model metadata that
// produced it. Its lifecycle is tied to its Chunk; orphan vectors are
// forbidden by the three-way consistency invariant.
type Embedding struct {
	ChunkID          string
	Vector           []float32
	ModelID          string
	EmbeddingVersion int
}

// VectorPayload carries the metadata the Vector Store needs to evaluate
// filters without a second lookup against the Metadata Store.
type VectorPayload struct {
	SourceID          string
	DocumentID        string
	Tags              []string
	Kind              SourceKind
	IndexedAt         time.Time
	SectionPathPrefix string
}

// VectorResult is a single ranked hit from the Vector Store.
type VectorResult struct {
	ID    string
	Score float32 // cosine similarity in [-1, 1], higher is more similar
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	M              int    // HNSW max connections per layer
	EfConstruction int    // HNSW build-time search width
	EfSearch       int    // HNSW query-time search width

	// ModelID is the embedding model id this store's vectors were built
	// with. Persisted alongside the graph so a later Open with a
	// different configured model id can be refused as a fatal
	// configuration error instead of silently returning garbage-similarity
	// results.
	ModelID string
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides dense semantic search with filterable payload.
// Vectors are L2-normalized on insert so cosine similarity reduces to dot
// product.
type VectorStore interface {
	// Upsert inserts or replaces vectors with their payload.
	Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []VectorPayload) error

	// Search finds the k nearest neighbors to query, applying filter as a
	// conjunctive post-filter on payload before truncating to k.
	Search(ctx context.Context, query []float32, k int, filter ChunkFilter) ([]*VectorResult, error)

	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all live vector IDs, for consistency checks.
	AllIDs() []string
	Contains(id string) bool
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates the query or inserted vector's dimension
// does not match the store's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with the current embedding model)", e.Expected, e.Got)
}
