package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nexuscore/nexus/internal/bm25"
	"github.com/nexuscore/nexus/internal/embed"
	"github.com/nexuscore/nexus/internal/nexuserr"
	"github.com/nexuscore/nexus/internal/store"
)

// Engine is the Hybrid Retriever: it orchestrates the Vector Store, the
// BM25 Index, an optional reranker, and the Metadata Store into a single
// search pipeline (query processing → parallel retrieval → RRF fusion →
// rerank → hydrate).
type Engine struct {
	vector   store.VectorStore
	bm25     *bm25.Index
	embedder embed.Embedder
	metadata store.MetadataStore
	reranker Reranker
	config   Config
	fusion   *RRFFusion
}

var _ Retriever = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// EngineOption configures the Engine at construction time.
type EngineOption func(*Engine)

// WithReranker installs a cross-encoder (or stand-in) reranker. Without
// one, the engine falls back to a NoOpReranker, which preserves RRF order.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// NewEngine builds the Hybrid Retriever. All four stores are required;
// the reranker defaults to NoOpReranker if not supplied via WithReranker.
func NewEngine(
	vector store.VectorStore,
	idx *bm25.Index,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	cfg Config,
	opts ...EngineOption,
) (*Engine, error) {
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if idx == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}

	e := &Engine{
		vector:   vector,
		bm25:     idx,
		embedder: embedder,
		metadata: metadata,
		config:   cfg,
		fusion:   NewRRFFusionWithParams(cfg.RRFConstant, cfg.Alpha),
		reranker: &NoOpReranker{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// applyDefaults fills unset knobs in opts from the engine's configured
// defaults.
func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.DenseK <= 0 {
		opts.DenseK = e.config.DenseK
	}
	if opts.SparseK <= 0 {
		opts.SparseK = e.config.SparseK
	}
	if opts.RerankK <= 0 {
		opts.RerankK = e.config.RerankK
	}
	if opts.Alpha == 0 {
		opts.Alpha = e.config.Alpha
	}
	return opts
}

// Search runs the five-stage hybrid pipeline: query processing, parallel
// dense+sparse retrieval, RRF fusion, optional rerank, and hydration.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	deadline := e.config.QueryDeadline
	if deadline <= 0 {
		deadline = DefaultConfig().QueryDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// --- Stage 1: query processing ---
	query = strings.TrimSpace(query)
	if len(query) < 1 || len(query) > 1000 {
		return nil, nexuserr.NewQuery("search", fmt.Sprintf("query length must be in [1, 1000], got %d", len(query)), nil)
	}

	hint, remainder, err := ExtractFilterHint(query)
	if err != nil {
		return nil, nexuserr.NewQuery("search", "malformed filter hint in query", err)
	}
	if remainder != "" {
		query = remainder
	}
	filter := MergeFilters(hint, opts.Filters)

	opts = e.applyDefaults(opts)
	queryTokens := bm25.Tokenize(query, nil)

	// --- Stage 2: parallel retrieval ---
	dense, sparse, retrieveErr := e.parallelRetrieve(ctx, query, queryTokens, opts, filter)
	if retrieveErr != nil {
		return nil, retrieveErr
	}
	if len(dense) == 0 && len(sparse) == 0 {
		return []*SearchResult{}, nil
	}

	// --- Stage 3: RRF fusion ---
	fused := e.fusion.Fuse(dense, sparse)

	fuseLimit := opts.Limit
	rerankEnabled := opts.UseRerank && opts.RerankK > 0
	if rerankEnabled {
		fuseLimit = opts.RerankK
	}
	if fuseLimit < len(fused) {
		fused = fused[:fuseLimit]
	}

	// --- Stage 4: rerank (optional, never hard-fails) ---
	rerankUsed := false
	if rerankEnabled {
		reranked, ok := e.rerank(ctx, query, fused)
		if ok {
			fused = reranked
			rerankUsed = true
		}
	}
	if opts.Limit < len(fused) {
		fused = fused[:opts.Limit]
	}

	// --- Stage 5: hydrate ---
	return e.hydrate(ctx, fused, rerankUsed)
}

// parallelRetrieve issues the dense and sparse retrievals concurrently.
// Per §5, dense/sparse cost is bounded so both run to completion even
// under context cancellation between stages; a hard failure from either
// store is surfaced, since the pipeline must never return zero results
// that should exist.
func (e *Engine) parallelRetrieve(
	ctx context.Context,
	query string,
	queryTokens []string,
	opts SearchOptions,
	filter store.ChunkFilter,
) ([]*store.VectorResult, []*bm25.Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var dense []*store.VectorResult
	var sparse []*bm25.Result

	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return nexuserr.NewModel("search.embed", "failed to embed query", err, false)
		}
		results, err := e.vector.Search(gctx, vec, opts.DenseK, filter)
		if err != nil {
			return nexuserr.NewIndex("search.dense", "vector store search failed", err)
		}
		dense = results
		return nil
	})

	g.Go(func() error {
		filterFn := func(chunkID string) bool {
			return matchesChunkFilter(ctx, e.metadata, chunkID, filter)
		}
		if filter.IsZero() {
			filterFn = nil
		}
		sparse = e.bm25.Search(queryTokens, opts.SparseK, filterFn)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return dense, sparse, nil
}

// matchesChunkFilter hydrates enough of a chunk's document to evaluate
// filter predicates the BM25 index cannot evaluate from its own state.
func matchesChunkFilter(ctx context.Context, metadata store.MetadataStore, chunkID string, filter store.ChunkFilter) bool {
	chunk, err := metadata.GetChunk(ctx, chunkID)
	if err != nil {
		return false
	}
	if filter.SectionPathPrefix != "" && !hasSectionPrefix(chunk.SectionPath, filter.SectionPathPrefix) {
		return false
	}
	doc, err := metadata.GetDocument(ctx, chunk.DocumentID)
	if err != nil {
		return false
	}
	if filter.SourceID != "" && doc.SourceID != filter.SourceID {
		return false
	}
	if filter.DocumentID != "" && doc.ID != filter.DocumentID {
		return false
	}
	if filter.Kind != "" {
		source, err := metadata.GetSource(ctx, doc.SourceID)
		if err != nil || source.Kind != filter.Kind {
			return false
		}
	}
	if !filter.Since.IsZero() && chunk.IndexedAt.Before(filter.Since) {
		return false
	}
	if len(filter.Tags) > 0 && !hasAnyTag(doc.Tags, filter.Tags) {
		return false
	}
	return true
}

func hasSectionPrefix(path []string, prefix string) bool {
	joined := strings.Join(path, "/")
	return strings.HasPrefix(joined, prefix)
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// rerank scores the fused candidates with the configured reranker. On any
// failure — model error or exceeding the rerank stage budget — it logs
// and reports ok=false so the caller falls back to RRF order. The
// retriever is never allowed to hard-fail because of rerank.
func (e *Engine) rerank(ctx context.Context, query string, fused []*fusedResult) ([]*fusedResult, bool) {
	budget := e.config.RerankBudget
	if budget <= 0 {
		budget = DefaultConfig().RerankBudget
	}
	rctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	texts := make([]string, len(fused))
	for i, f := range fused {
		chunk, err := e.metadata.GetChunk(rctx, f.ChunkID)
		if err != nil {
			slog.Warn("rerank: falling back to RRF order", slog.String("reason", "chunk lookup failed"), slog.Any("error", err))
			return fused, false
		}
		texts[i] = chunk.Text
	}

	results, err := e.reranker.Rerank(rctx, query, texts, 0)
	if err != nil {
		slog.Warn("rerank: falling back to RRF order", slog.Any("error", err))
		return fused, false
	}

	out := make([]*fusedResult, len(results))
	for i, r := range results {
		f := fused[r.Index]
		f.RRFScore = r.Score
		out[i] = f
	}
	return out, true
}

// hydrate looks up chunk text and document metadata for each fused
// result and assembles the final SearchResult list.
func (e *Engine) hydrate(ctx context.Context, fused []*fusedResult, rerankUsed bool) ([]*SearchResult, error) {
	out := make([]*SearchResult, 0, len(fused))
	for _, f := range fused {
		chunk, err := e.metadata.GetChunk(ctx, f.ChunkID)
		if err != nil {
			// A chunk may have been deleted between retrieval and hydration
			// (per-document atomic swap); skip it rather than fail the query.
			continue
		}
		doc, err := e.metadata.GetDocument(ctx, chunk.DocumentID)
		if err != nil {
			continue
		}

		result := &SearchResult{
			ChunkID:     chunk.ID,
			Score:       f.RRFScore,
			Text:        chunk.Text,
			DocumentID:  chunk.DocumentID,
			URI:         doc.URI,
			SectionPath: chunk.SectionPath,
			CharStart:   chunk.CharStart,
			CharEnd:     chunk.CharEnd,
			DenseRank:   f.VecRank,
			SparseRank:  f.BM25Rank,
			RerankUsed:  rerankUsed,
		}
		if rerankUsed {
			result.RerankScore = f.RRFScore
		}
		out = append(out, result)
	}
	return out, nil
}

// FindRelated returns the dense-only near-neighbors of an existing
// chunk's vector, excluding the chunk itself.
func (e *Engine) FindRelated(ctx context.Context, chunkID string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	chunk, err := e.metadata.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, nexuserr.NewQuery("find_related", "chunk not found", err)
	}

	vec, err := e.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return nil, nexuserr.NewModel("find_related.embed", "failed to embed chunk text", err, false)
	}

	results, err := e.vector.Search(ctx, vec, limit+1, store.ChunkFilter{})
	if err != nil {
		return nil, nexuserr.NewIndex("find_related", "vector store search failed", err)
	}

	out := make([]*SearchResult, 0, limit)
	for i, r := range results {
		if r.ID == chunkID {
			continue
		}
		related, err := e.metadata.GetChunk(ctx, r.ID)
		if err != nil {
			continue
		}
		doc, err := e.metadata.GetDocument(ctx, related.DocumentID)
		if err != nil {
			continue
		}
		out = append(out, &SearchResult{
			ChunkID:     related.ID,
			Score:       float64(r.Score),
			Text:        related.Text,
			DocumentID:  related.DocumentID,
			URI:         doc.URI,
			SectionPath: related.SectionPath,
			CharStart:   related.CharStart,
			CharEnd:     related.CharEnd,
			DenseRank:   i + 1,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stats reports current index sizes across all three stores.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{
		Vectors:      e.vector.Count(),
		BM25Terms:    e.bm25.TermCount(),
		BM25DocCount: e.bm25.DocCount(),
	}
	if s, err := e.metadata.Stats(context.Background()); err == nil {
		stats.Documents = s.Documents
		stats.Chunks = s.Chunks
	}
	return stats
}

// Close releases the engine's own resources. The underlying stores are
// owned by the caller and are not closed here.
func (e *Engine) Close() error {
	return e.reranker.Close()
}
