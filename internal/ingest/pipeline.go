// Package ingest implements the ingestion pipeline: the only writer to the
// Vector Store and BM25 Index. It computes content hashes, re-chunks
// changed documents, diffs the chunk set, and applies additions/removals
// to both indexes under a per-document critical section before
// committing the authoritative chunk set to the Metadata Store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexuscore/nexus/internal/bm25"
	"github.com/nexuscore/nexus/internal/chunk"
	"github.com/nexuscore/nexus/internal/embed"
	"github.com/nexuscore/nexus/internal/nexuserr"
	"github.com/nexuscore/nexus/internal/store"
)

// Request is what ingest_document consumes.
type Request struct {
	SourceID    string
	URI         string
	Content     []byte
	Tags        []string
	Frontmatter map[string]string
}

// Outcome reports what ingest_document did.
type Outcome struct {
	DocumentID string
	Added      int
	Removed    int
	Kept       int
}

// Pipeline is the sole writer to the Vector Store and BM25 Index.
type Pipeline struct {
	vector   store.VectorStore
	bm25     *bm25.Index
	embedder embed.Embedder
	metadata store.MetadataStore
	chunker  chunk.Chunker

	locks *docLocks
}

// New builds an ingestion pipeline over the given stores, embedder, and
// chunker.
func New(vector store.VectorStore, idx *bm25.Index, embedder embed.Embedder, metadata store.MetadataStore, chunker chunk.Chunker) *Pipeline {
	return &Pipeline{
		vector:   vector,
		bm25:     idx,
		embedder: embedder,
		metadata: metadata,
		chunker:  chunker,
		locks:    newDocLocks(),
	}
}

// contentHash returns the hex SHA-256 of a document's raw bytes. No
// canonicalization is applied, so any byte-level difference (line endings,
// trailing whitespace, encoding) yields a different hash.
func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// IngestDocument runs the five-step ingestion algorithm for one document.
// Re-ingesting identical bytes under identical config is a zero-cost
// no-op: step 1 short-circuits on UpsertDocument reporting "unchanged".
func (p *Pipeline) IngestDocument(ctx context.Context, req Request) (Outcome, error) {
	hash := contentHash(req.Content)

	frontmatter, body, bodyOffset := chunk.ParseFrontmatter(string(req.Content))
	for k, v := range req.Frontmatter {
		frontmatter[k] = v
	}

	doc := &store.Document{
		SourceID:    req.SourceID,
		URI:         req.URI,
		ContentHash: hash,
		ByteSize:    int64(len(req.Content)),
		Tags:        req.Tags,
		Frontmatter: frontmatter,
	}

	// Step 1: upsert the document; unchanged content is zero-cost.
	resolved, outcome, err := p.metadata.UpsertDocument(ctx, doc)
	if err != nil {
		return Outcome{}, nexuserr.NewIndex("ingest.upsert_document", "failed to upsert document metadata", err)
	}
	if outcome == store.OutcomeUnchanged {
		kept, err := p.metadata.GetChunksByDocument(ctx, resolved.ID)
		if err != nil {
			return Outcome{}, nexuserr.NewIndex("ingest.upsert_document", "failed to read unchanged chunk set", err)
		}
		return Outcome{DocumentID: resolved.ID, Kept: len(kept)}, nil
	}

	unlock := p.locks.lock(resolved.ID)
	defer unlock()

	// Step 2: parse and chunk; read the old chunk set.
	rawChunks, err := p.chunker.Chunk(ctx, chunk.Input{DocumentID: resolved.ID, Body: body, BodyOffset: bodyOffset})
	if err != nil {
		return Outcome{}, nexuserr.NewCorpus("ingest.chunk", fmt.Sprintf("failed to chunk document %s", req.URI), err)
	}
	newChunks := make([]*store.Chunk, len(rawChunks))
	for i, c := range rawChunks {
		newChunks[i] = &store.Chunk{
			ID: c.ID, DocumentID: c.DocumentID, Ordinal: c.Ordinal, Text: c.Text,
			CharStart: c.CharStart, CharEnd: c.CharEnd, SectionPath: c.SectionPath,
			TokenCount: c.TokenCount,
		}
	}

	oldChunks, err := p.metadata.GetChunksByDocument(ctx, resolved.ID)
	if err != nil {
		return Outcome{}, nexuserr.NewIndex("ingest.read_old_chunks", "failed to read existing chunk set", err)
	}

	// Step 3: diff by chunk_id equality.
	newByID := make(map[string]*store.Chunk, len(newChunks))
	for _, c := range newChunks {
		newByID[c.ID] = c
	}
	oldByID := make(map[string]*store.Chunk, len(oldChunks))
	for _, c := range oldChunks {
		oldByID[c.ID] = c
	}

	var added, removed, kept []*store.Chunk
	for id, c := range newByID {
		if _, ok := oldByID[id]; ok {
			kept = append(kept, c)
		} else {
			added = append(added, c)
		}
	}
	for id, c := range oldByID {
		if _, ok := newByID[id]; !ok {
			removed = append(removed, c)
		}
	}

	// Step 4: embed added chunks.
	addedTexts := make([]string, len(added))
	for i, c := range added {
		addedTexts[i] = c.Text
	}
	addedVectors, err := p.embedder.EmbedBatch(ctx, addedTexts)
	if err != nil {
		return Outcome{}, nexuserr.NewModel("ingest.embed", "failed to embed added chunks", err, false)
	}

	source, err := p.metadata.GetSource(ctx, resolved.SourceID)
	if err != nil {
		return Outcome{}, nexuserr.NewIndex("ingest.get_source", fmt.Sprintf("failed to resolve source %s", resolved.SourceID), err)
	}

	// Step 5: critical section. Apply index mutations, then commit
	// metadata last; any failure triggers a best-effort rollback of the
	// completed steps before surfacing the error. Removed chunks keep
	// their text available (from the read in step 2) so a rollback can
	// re-embed and reinsert them rather than requiring a read path the
	// Vector Store doesn't expose.
	var completed []func()
	rollback := func() {
		for i := len(completed) - 1; i >= 0; i-- {
			completed[i]()
		}
	}

	removedIDs := chunkIDs(removed)
	if len(removedIDs) > 0 {
		if err := p.vector.Delete(ctx, removedIDs); err != nil {
			return Outcome{}, nexuserr.NewIndex("ingest.vector_delete", "failed to delete vectors for removed chunks", err)
		}
		completed = append(completed, func() {
			if err := p.reinsertRemoved(ctx, removed, resolved, source); err != nil {
				slog.Error("ingest rollback: failed to restore removed chunks to vector store", slog.Any("error", err))
			}
		})

		for _, id := range removedIDs {
			p.bm25.Remove(id)
		}
		completed = append(completed, func() {
			p.reindexBM25(removed)
		})
	}

	addedIDs := chunkIDs(added)
	if len(addedIDs) > 0 {
		if err := p.vector.Upsert(ctx, addedIDs, addedVectors, vectorPayloadsFor(resolved, source, added)); err != nil {
			rollback()
			return Outcome{}, nexuserr.NewIndex("ingest.vector_upsert", "failed to upsert vectors for added chunks", err)
		}
		completed = append(completed, func() {
			if err := p.vector.Delete(ctx, addedIDs); err != nil {
				slog.Error("ingest rollback: failed to undo vector upsert", slog.Any("error", err))
			}
		})

		for _, c := range added {
			p.bm25.Add(c.ID, bm25.Tokenize(c.Text, nil))
		}
		completed = append(completed, func() {
			for _, c := range added {
				p.bm25.Remove(c.ID)
			}
		})
	}

	if _, _, _, err := p.metadata.ReplaceChunks(ctx, resolved.ID, newChunks); err != nil {
		rollback()
		return Outcome{}, nexuserr.NewIndex("ingest.replace_chunks", "failed to commit chunk set", err)
	}

	return Outcome{
		DocumentID: resolved.ID,
		Added:      len(added),
		Removed:    len(removed),
		Kept:       len(kept),
	}, nil
}

// DeleteDocument removes a document and its chunks from all three stores.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	unlock := p.locks.lock(documentID)
	defer unlock()

	chunks, err := p.metadata.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return 0, nexuserr.NewIndex("ingest.delete_document", "failed to read chunk set", err)
	}
	ids := chunkIDs(chunks)

	if len(ids) > 0 {
		if err := p.vector.Delete(ctx, ids); err != nil {
			return 0, nexuserr.NewIndex("ingest.delete_document.vector", "failed to delete vectors", err)
		}
		for _, id := range ids {
			p.bm25.Remove(id)
		}
	}

	if err := p.metadata.DeleteDocument(ctx, documentID); err != nil {
		return 0, nexuserr.NewIndex("ingest.delete_document.metadata", "failed to delete document metadata", err)
	}

	return len(ids), nil
}

func (p *Pipeline) reinsertRemoved(ctx context.Context, removed []*store.Chunk, doc *store.Document, source *store.Source) error {
	if len(removed) == 0 {
		return nil
	}
	texts := make([]string, len(removed))
	for i, c := range removed {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	return p.vector.Upsert(ctx, chunkIDs(removed), vectors, vectorPayloadsFor(doc, source, removed))
}

func (p *Pipeline) reindexBM25(removed []*store.Chunk) {
	for _, c := range removed {
		p.bm25.Add(c.ID, bm25.Tokenize(c.Text, nil))
	}
}

func chunkIDs(chunks []*store.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// vectorPayloadFor builds the Vector Store payload for one chunk of doc,
// carrying source kind and a per-chunk section path prefix so filter
// clauses on kind/path work on the dense retrieval path too.
func vectorPayloadFor(doc *store.Document, source *store.Source, c *store.Chunk) store.VectorPayload {
	return store.VectorPayload{
		SourceID:          doc.SourceID,
		DocumentID:        doc.ID,
		Tags:              doc.Tags,
		Kind:              source.Kind,
		IndexedAt:         doc.UpdatedAt,
		SectionPathPrefix: strings.Join(c.SectionPath, "/"),
	}
}

func vectorPayloadsFor(doc *store.Document, source *store.Source, chunks []*store.Chunk) []store.VectorPayload {
	out := make([]store.VectorPayload, len(chunks))
	for i, c := range chunks {
		out[i] = vectorPayloadFor(doc, source, c)
	}
	return out
}
