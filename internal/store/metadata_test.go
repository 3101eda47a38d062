package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreSourceCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	src := &Source{ID: "src1", Kind: SourceKindDirectory, Root: "/notes", CreatedAt: time.Now(), LastScan: time.Now()}
	if err := s.UpsertSource(ctx, src); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	got, err := s.GetSource(ctx, "src1")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Root != "/notes" || got.Kind != SourceKindDirectory {
		t.Errorf("unexpected source: %+v", got)
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}

	if err := s.DeleteSource(ctx, "src1"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := s.GetSource(ctx, "src1"); err == nil {
		t.Error("expected error getting deleted source")
	}
}

func TestSQLiteStoreUpsertDocumentOutcomes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	src := &Source{ID: "src1", Kind: SourceKindDirectory, Root: "/notes", CreatedAt: time.Now(), LastScan: time.Now()}
	if err := s.UpsertSource(ctx, src); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	doc := &Document{
		ID: "doc1", SourceID: "src1", URI: "a.md", Title: "A", ContentHash: "h1",
		ByteSize: 100, MTime: time.Now(), Tags: []string{"x"}, Frontmatter: map[string]string{"k": "v"},
	}
	_, outcome, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("UpsertDocument (create): %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("expected OutcomeCreated, got %s", outcome)
	}

	doc2 := &Document{
		ID: "doc1-retry", SourceID: "src1", URI: "a.md", Title: "A", ContentHash: "h1",
		ByteSize: 100, MTime: time.Now(),
	}
	_, outcome, err = s.UpsertDocument(ctx, doc2)
	if err != nil {
		t.Fatalf("UpsertDocument (unchanged): %v", err)
	}
	if outcome != OutcomeUnchanged {
		t.Errorf("expected OutcomeUnchanged, got %s", outcome)
	}

	doc3 := &Document{
		ID: "doc1-retry2", SourceID: "src1", URI: "a.md", Title: "A2", ContentHash: "h2",
		ByteSize: 200, MTime: time.Now(),
	}
	resolved, outcome, err := s.UpsertDocument(ctx, doc3)
	if err != nil {
		t.Fatalf("UpsertDocument (update): %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("expected OutcomeUpdated, got %s", outcome)
	}
	if resolved.ID != "doc1" {
		t.Errorf("expected resolved id to be existing doc1, got %s", resolved.ID)
	}

	fetched, err := s.GetDocumentByURI(ctx, "src1", "a.md")
	if err != nil {
		t.Fatalf("GetDocumentByURI: %v", err)
	}
	if fetched.ContentHash != "h2" || fetched.Title != "A2" {
		t.Errorf("unexpected document after update: %+v", fetched)
	}
}

func TestSQLiteStoreReplaceChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	src := &Source{ID: "src1", Kind: SourceKindDirectory, Root: "/notes", CreatedAt: time.Now(), LastScan: time.Now()}
	s.UpsertSource(ctx, src)
	doc := &Document{ID: "doc1", SourceID: "src1", URI: "a.md", Title: "A", ContentHash: "h1", MTime: time.Now()}
	s.UpsertDocument(ctx, doc)

	first := []*Chunk{
		{ID: "c1", DocumentID: "doc1", Ordinal: 0, Text: "one", CharStart: 0, CharEnd: 3, TokenCount: 1},
		{ID: "c2", DocumentID: "doc1", Ordinal: 1, Text: "two", CharStart: 3, CharEnd: 6, TokenCount: 1},
	}
	added, removed, kept, err := s.ReplaceChunks(ctx, "doc1", first)
	if err != nil {
		t.Fatalf("ReplaceChunks (initial): %v", err)
	}
	if len(added) != 2 || len(removed) != 0 || len(kept) != 0 {
		t.Fatalf("unexpected initial diff: added=%v removed=%v kept=%v", added, removed, kept)
	}

	second := []*Chunk{
		{ID: "c1", DocumentID: "doc1", Ordinal: 0, Text: "one", CharStart: 0, CharEnd: 3, TokenCount: 1},
		{ID: "c3", DocumentID: "doc1", Ordinal: 1, Text: "three", CharStart: 3, CharEnd: 8, TokenCount: 1},
	}
	added, removed, kept, err = s.ReplaceChunks(ctx, "doc1", second)
	if err != nil {
		t.Fatalf("ReplaceChunks (diff): %v", err)
	}
	if len(added) != 1 || added[0] != "c3" {
		t.Errorf("expected added=[c3], got %v", added)
	}
	if len(removed) != 1 || removed[0] != "c2" {
		t.Errorf("expected removed=[c2], got %v", removed)
	}
	if len(kept) != 1 || kept[0] != "c1" {
		t.Errorf("expected kept=[c1], got %v", kept)
	}

	all, err := s.AllChunkIDs(ctx)
	if err != nil {
		t.Fatalf("AllChunkIDs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 live chunks, got %d", len(all))
	}
}

func TestSQLiteStoreListChunksWithFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.UpsertSource(ctx, &Source{ID: "src1", Kind: SourceKindDirectory, Root: "/notes", CreatedAt: time.Now(), LastScan: time.Now()})
	s.UpsertDocument(ctx, &Document{ID: "doc1", SourceID: "src1", URI: "a.md", ContentHash: "h1", MTime: time.Now(), Tags: []string{"work"}})
	s.UpsertDocument(ctx, &Document{ID: "doc2", SourceID: "src1", URI: "b.md", ContentHash: "h2", MTime: time.Now(), Tags: []string{"personal"}})

	s.ReplaceChunks(ctx, "doc1", []*Chunk{{ID: "c1", DocumentID: "doc1", Ordinal: 0, Text: "a", IndexedAt: time.Now()}})
	s.ReplaceChunks(ctx, "doc2", []*Chunk{{ID: "c2", DocumentID: "doc2", Ordinal: 0, Text: "b", IndexedAt: time.Now()}})

	chunks, err := s.ListChunks(ctx, ChunkFilter{Tags: []string{"work"}})
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c1" {
		t.Errorf("expected only c1 for tag filter, got %+v", chunks)
	}

	byDoc, err := s.ListChunks(ctx, ChunkFilter{DocumentID: "doc2"})
	if err != nil {
		t.Fatalf("ListChunks by document: %v", err)
	}
	if len(byDoc) != 1 || byDoc[0].ID != "c2" {
		t.Errorf("expected only c2 for document filter, got %+v", byDoc)
	}
}

func TestSQLiteStoreState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	val, err := s.GetState(ctx, "missing")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty string for missing key, got %q", val)
	}

	if err := s.SetState(ctx, "embedding_model", "static-768"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	val, err = s.GetState(ctx, "embedding_model")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if val != "static-768" {
		t.Errorf("expected static-768, got %q", val)
	}

	if err := s.SetState(ctx, "embedding_model", "static-1024"); err != nil {
		t.Fatalf("SetState overwrite: %v", err)
	}
	val, _ = s.GetState(ctx, "embedding_model")
	if val != "static-1024" {
		t.Errorf("expected overwritten value, got %q", val)
	}
}

func TestSQLiteStoreStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.UpsertSource(ctx, &Source{ID: "src1", Kind: SourceKindDirectory, Root: "/notes", CreatedAt: time.Now(), LastScan: time.Now()})
	s.UpsertDocument(ctx, &Document{ID: "doc1", SourceID: "src1", URI: "a.md", ContentHash: "h1", MTime: time.Now()})
	s.ReplaceChunks(ctx, "doc1", []*Chunk{{ID: "c1", DocumentID: "doc1", Ordinal: 0, Text: "a"}})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Sources != 1 || stats.Documents != 1 || stats.Chunks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSQLiteStoreDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.UpsertSource(ctx, &Source{ID: "src1", Kind: SourceKindDirectory, Root: "/notes", CreatedAt: time.Now(), LastScan: time.Now()})
	s.UpsertDocument(ctx, &Document{ID: "doc1", SourceID: "src1", URI: "a.md", ContentHash: "h1", MTime: time.Now()})
	s.ReplaceChunks(ctx, "doc1", []*Chunk{{ID: "c1", DocumentID: "doc1", Ordinal: 0, Text: "a"}})

	if err := s.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	chunks, err := s.GetChunksByDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetChunksByDocument: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected chunks to cascade-delete, got %d", len(chunks))
	}
}
