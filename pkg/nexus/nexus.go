// Package nexus is the public facade over the hybrid retrieval core. It
// wires the Metadata Store, Vector Store, BM25 Index, Embedder, Ingestion
// Pipeline, and Hybrid Retriever into the Ingestion API and Query API, and
// owns the on-disk persistent state layout under Config.DataDir.
package nexus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nexuscore/nexus/internal/bm25"
	"github.com/nexuscore/nexus/internal/chunk"
	"github.com/nexuscore/nexus/internal/config"
	"github.com/nexuscore/nexus/internal/consistency"
	"github.com/nexuscore/nexus/internal/embed"
	"github.com/nexuscore/nexus/internal/ingest"
	"github.com/nexuscore/nexus/internal/nexuserr"
	"github.com/nexuscore/nexus/internal/search"
	"github.com/nexuscore/nexus/internal/store"
)

// Nexus is the top-level handle on one local knowledge base: one
// Metadata Store, one Vector Store, one BM25 Index, sharing one embedder
// and one ingestion pipeline.
type Nexus struct {
	cfg *config.Config

	metadata *store.SQLiteStore
	vector   *store.HNSWStore
	bm25     *bm25.Index
	embedder embed.Embedder

	pipeline *ingest.Pipeline
	queue    *ingest.Queue
	engine   *search.Engine
	checker  *consistency.Checker
}

// Open validates cfg, creates Config.DataDir's subdirectories if absent,
// loads any existing persistent state, and wires the full pipeline. A
// zero-valued cfg is invalid; pass config.Default() and override fields.
func Open(cfg *config.Config) (*Nexus, error) {
	if cfg == nil {
		return nil, nexuserr.NewConfig("nexus.open", "config must not be nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nexuserr.NewConfig("nexus.open", "invalid configuration", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.VectorsDir(), filepath.Dir(cfg.BM25IndexPath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nexuserr.NewConfig("nexus.open", fmt.Sprintf("failed to create %s", dir), err)
		}
	}

	metadata, err := store.NewSQLiteStore(cfg.MetadataDBPath())
	if err != nil {
		return nil, nexuserr.NewConfig("nexus.open", "failed to open metadata store", err)
	}

	vectorCfg := store.DefaultVectorStoreConfig(cfg.Embedding.Dimensions)
	vectorCfg.ModelID = cfg.Embedding.ModelID
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		metadata.Close()
		return nil, nexuserr.NewConfig("nexus.open", "failed to create vector store", err)
	}
	vectorPath := filepath.Join(cfg.VectorsDir(), "index.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vector.Load(vectorPath); err != nil {
			metadata.Close()
			vector.Close()
			return nil, nexuserr.NewIndex("nexus.open", "failed to load vector store from disk", err)
		}
		if recorded := vector.ModelID(); recorded != "" && recorded != cfg.Embedding.ModelID {
			metadata.Close()
			vector.Close()
			return nil, nexuserr.NewConfig("nexus.open", fmt.Sprintf("vector store was built with embedding model %q, config specifies %q", recorded, cfg.Embedding.ModelID), nil)
		}
	}

	idx := bm25.New(bm25.Config{K1: cfg.Retrieval.BM25K1, B: cfg.Retrieval.BM25B})
	if _, err := os.Stat(cfg.BM25IndexPath()); err == nil {
		if err := idx.Load(cfg.BM25IndexPath(), cfg.BM25LengthsPath()); err != nil {
			metadata.Close()
			vector.Close()
			return nil, nexuserr.NewIndex("nexus.open", "failed to load bm25 index from disk", err)
		}
	}

	embedder := embed.New(cfg.Embedding.ModelID, cfg.Embedding.Dimensions, cfg.Embedding.CacheSize)
	chunker := chunk.NewMarkdownChunker(chunk.Options{
		TargetTokens:  cfg.Chunking.TargetTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
	})

	pipeline := ingest.New(vector, idx, embedder, metadata, chunker)
	queue := ingest.NewQueue(pipeline, ingest.QueueConfig{
		Capacity: cfg.Ingest.QueueCapacity,
		Workers:  cfg.Ingest.Workers,
	})

	searchCfg := search.Config{
		DenseK:        cfg.Retrieval.DenseK,
		SparseK:       cfg.Retrieval.SparseK,
		RerankK:       cfg.Retrieval.RerankK,
		Alpha:         cfg.Retrieval.Alpha,
		RRFConstant:   search.DefaultRRFConstant,
		QueryDeadline: cfg.Retrieval.QueryDeadline,
	}
	engine, err := search.NewEngine(vector, idx, embedder, metadata, searchCfg, search.WithReranker(search.NewHeuristicReranker()))
	if err != nil {
		queue.Close()
		metadata.Close()
		vector.Close()
		return nil, nexuserr.NewConfig("nexus.open", "failed to build hybrid retriever", err)
	}

	checker := consistency.New(metadata, vector, idx)
	if ok, err := checker.QuickCheck(context.Background()); err != nil {
		slog.Warn("startup consistency quick check failed", slog.Any("error", err))
	} else if !ok {
		slog.Warn("startup consistency quick check found a count mismatch; run a full scan and repair")
	}

	return &Nexus{
		cfg:      cfg,
		metadata: metadata,
		vector:   vector,
		bm25:     idx,
		embedder: embedder,
		pipeline: pipeline,
		queue:    queue,
		engine:   engine,
		checker:  checker,
	}, nil
}

// IngestDocument implements the Ingestion API's ingest_document operation,
// routed through the bounded work queue so concurrent callers back-pressure
// rather than unbound the ingestion worker pool.
func (n *Nexus) IngestDocument(ctx context.Context, req ingest.Request) (ingest.Outcome, error) {
	return n.queue.Submit(ctx, req)
}

// DeleteDocument implements the Ingestion API's delete_document operation.
func (n *Nexus) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	return n.pipeline.DeleteDocument(ctx, documentID)
}

// AddSource registers a new content origin.
func (n *Nexus) AddSource(ctx context.Context, src *store.Source) error {
	return n.metadata.UpsertSource(ctx, src)
}

// ListSources returns every registered content origin.
func (n *Nexus) ListSources(ctx context.Context) ([]*store.Source, error) {
	return n.metadata.ListSources(ctx)
}

// DocumentByURI looks up a document by its (source, uri) pair, e.g. so a
// filesystem watcher can resolve a removed path to the document_id
// delete_document expects.
func (n *Nexus) DocumentByURI(ctx context.Context, sourceID, uri string) (*store.Document, error) {
	return n.metadata.GetDocumentByURI(ctx, sourceID, uri)
}

// Search implements the Query API's hybrid search operation.
func (n *Nexus) Search(ctx context.Context, query string, opts search.SearchOptions) ([]*search.SearchResult, error) {
	return n.engine.Search(ctx, query, opts)
}

// FindRelated implements the Query API's dense-only near-neighbor lookup.
func (n *Nexus) FindRelated(ctx context.Context, chunkID string, limit int) ([]*search.SearchResult, error) {
	return n.engine.FindRelated(ctx, chunkID, limit)
}

// Stats summarizes the current size of the knowledge base.
func (n *Nexus) Stats() search.EngineStats {
	return n.engine.Stats()
}

// CheckConsistency runs a full three-way consistency scan across the
// Metadata Store, Vector Store, and BM25 Index.
func (n *Nexus) CheckConsistency(ctx context.Context) (consistency.Report, error) {
	return n.checker.Scan(ctx)
}

// RepairConsistency deletes orphaned index entries found by a prior scan.
// Entries missing from an index are logged, not repaired: restoring them
// requires re-ingesting the owning document.
func (n *Nexus) RepairConsistency(ctx context.Context, issues []consistency.Issue) error {
	return n.checker.Repair(ctx, issues)
}

// Close persists the vector store and BM25 index to disk, drains the
// ingestion queue, and closes the metadata store. Safe to call once.
func (n *Nexus) Close() error {
	n.queue.Close()

	vectorPath := filepath.Join(n.cfg.VectorsDir(), "index.hnsw")
	if err := n.vector.Save(vectorPath); err != nil {
		slog.Error("failed to persist vector store on close", slog.Any("error", err))
	}
	if err := n.bm25.Persist(n.cfg.BM25IndexPath(), n.cfg.BM25LengthsPath()); err != nil {
		slog.Error("failed to persist bm25 index on close", slog.Any("error", err))
	}
	if err := n.vector.Close(); err != nil {
		slog.Error("failed to close vector store", slog.Any("error", err))
	}
	if err := n.engine.Close(); err != nil {
		slog.Error("failed to close hybrid retriever", slog.Any("error", err))
	}
	return n.metadata.Close()
}
