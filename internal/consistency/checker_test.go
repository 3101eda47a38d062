package consistency

import (
	"context"
	"testing"

	"github.com/nexuscore/nexus/internal/bm25"
	"github.com/nexuscore/nexus/internal/embed"
	"github.com/nexuscore/nexus/internal/store"
)

type rig struct {
	meta   *store.SQLiteStore
	vector *store.HNSWStore
	bm25   *bm25.Index
}

func newRig(t *testing.T) *rig {
	t.Helper()
	meta, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(8))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	t.Cleanup(func() { vector.Close() })

	if err := meta.UpsertSource(context.Background(), &store.Source{ID: "s1", Kind: store.SourceKindFile, Root: "/notes"}); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	return &rig{meta: meta, vector: vector, bm25: bm25.New(bm25.DefaultConfig())}
}

// seed writes one document with n chunks through the metadata store, and
// optionally into the vector store and bm25 index, so tests can construct
// specific three-way discrepancies.
func (r *rig) seed(t *testing.T, docID string, n int, intoVector, intoBM25 bool) []string {
	t.Helper()
	ctx := context.Background()
	embedder := embed.NewStaticEmbedder(8, "static-8")

	doc := &store.Document{ID: docID, SourceID: "s1", URI: docID + ".md", ContentHash: docID}
	resolved, _, err := r.meta.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	var chunks []*store.Chunk
	var ids []string
	for i := 0; i < n; i++ {
		id := docID + "-chunk-" + string(rune('a'+i))
		ids = append(ids, id)
		chunks = append(chunks, &store.Chunk{ID: id, DocumentID: resolved.ID, Ordinal: i, Text: "text for " + id})
	}
	if _, _, _, err := r.meta.ReplaceChunks(ctx, resolved.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	if intoVector {
		vecs, err := embedder.EmbedBatch(ctx, textsOf(chunks))
		if err != nil {
			t.Fatalf("EmbedBatch: %v", err)
		}
		payloads := make([]store.VectorPayload, n)
		if err := r.vector.Upsert(ctx, ids, vecs, payloads); err != nil {
			t.Fatalf("vector.Upsert: %v", err)
		}
	}
	if intoBM25 {
		for _, c := range chunks {
			r.bm25.Add(c.ID, bm25.Tokenize(c.Text, nil))
		}
	}
	return ids
}

func textsOf(chunks []*store.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestScanReportsConsistentWhenAllThreeAgree(t *testing.T) {
	r := newRig(t)
	r.seed(t, "doc1", 3, true, true)

	report, err := New(r.meta, r.vector, r.bm25).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !report.Consistent() {
		t.Errorf("expected consistent report, got issues: %+v", report.Issues)
	}
	if report.Checked != 3 {
		t.Errorf("expected 3 checked chunks, got %d", report.Checked)
	}
}

func TestScanDetectsMissingVectorEntries(t *testing.T) {
	r := newRig(t)
	ids := r.seed(t, "doc1", 2, false, true)

	report, err := New(r.meta, r.vector, r.bm25).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	found := map[string]bool{}
	for _, issue := range report.Issues {
		if issue.Kind == MissingVector {
			found[issue.ChunkID] = true
		}
	}
	for _, id := range ids {
		if !found[id] {
			t.Errorf("expected MissingVector issue for %s", id)
		}
	}
}

func TestScanDetectsOrphanEntries(t *testing.T) {
	r := newRig(t)
	r.seed(t, "doc1", 1, true, true)

	// Inject an orphan directly into bm25/vector with no metadata backing.
	r.bm25.Add("ghost-chunk", bm25.Tokenize("a ghost chunk with no metadata", nil))
	if err := r.vector.Upsert(context.Background(), []string{"ghost-chunk"}, [][]float32{make([]float32, 8)}, []store.VectorPayload{{}}); err != nil {
		t.Fatalf("vector.Upsert: %v", err)
	}

	report, err := New(r.meta, r.vector, r.bm25).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var sawOrphanVector, sawOrphanBM25 bool
	for _, issue := range report.Issues {
		if issue.ChunkID != "ghost-chunk" {
			continue
		}
		if issue.Kind == OrphanVector {
			sawOrphanVector = true
		}
		if issue.Kind == OrphanBM25 {
			sawOrphanBM25 = true
		}
	}
	if !sawOrphanVector || !sawOrphanBM25 {
		t.Errorf("expected both orphan kinds for ghost-chunk, got %+v", report.Issues)
	}
}

func TestQuickCheckComparesCounts(t *testing.T) {
	r := newRig(t)
	r.seed(t, "doc1", 4, true, true)

	ok, err := New(r.meta, r.vector, r.bm25).QuickCheck(context.Background())
	if err != nil {
		t.Fatalf("QuickCheck: %v", err)
	}
	if !ok {
		t.Error("expected QuickCheck to report consistent counts")
	}

	r.bm25.Remove("doc1-chunk-a")
	ok, err = New(r.meta, r.vector, r.bm25).QuickCheck(context.Background())
	if err != nil {
		t.Fatalf("QuickCheck: %v", err)
	}
	if ok {
		t.Error("expected QuickCheck to detect a count mismatch after removing a bm25 entry")
	}
}

func TestRepairDeletesOrphansAndLeavesMissingAlone(t *testing.T) {
	r := newRig(t)
	r.seed(t, "doc1", 1, false, true) // missing from vector

	r.bm25.Add("ghost", bm25.Tokenize("orphaned content", nil))

	checker := New(r.meta, r.vector, r.bm25)
	report, err := checker.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := checker.Repair(context.Background(), report.Issues); err != nil {
		t.Fatalf("Repair: %v", err)
	}

	if r.bm25.Contains("ghost") {
		t.Error("expected orphan bm25 entry to be deleted by Repair")
	}

	after, err := checker.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan after repair: %v", err)
	}
	for _, issue := range after.Issues {
		if issue.Kind == MissingVector && issue.ChunkID == "doc1-chunk-a" {
			return
		}
	}
	t.Error("expected the missing-vector issue to remain after repair, since repair cannot restore content")
}
