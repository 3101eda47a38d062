// Package consistency audits the three-way invariant that every live
// chunk_id is present in the Metadata Store, the Vector Store, and the
// BM25 Index simultaneously. It runs at startup and on demand; repair is
// conservative: orphans (present in an index but not metadata) are safe
// to delete, but entries missing from an index can only be restored by
// re-ingesting their document, so a repair only logs them.
package consistency

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexuscore/nexus/internal/bm25"
	"github.com/nexuscore/nexus/internal/nexuserr"
	"github.com/nexuscore/nexus/internal/store"
)

// IssueKind categorizes one detected cross-store discrepancy.
type IssueKind string

const (
	// OrphanVector is present in the Vector Store but absent from metadata.
	OrphanVector IssueKind = "orphan_vector"
	// OrphanBM25 is present in the BM25 Index but absent from metadata.
	OrphanBM25 IssueKind = "orphan_bm25"
	// MissingVector is present in metadata but absent from the Vector Store.
	MissingVector IssueKind = "missing_vector"
	// MissingBM25 is present in metadata but absent from the BM25 Index.
	MissingBM25 IssueKind = "missing_bm25"
)

// Issue is one detected discrepancy for one chunk_id.
type Issue struct {
	Kind    IssueKind
	ChunkID string
}

// Report is the outcome of a full scan.
type Report struct {
	Checked  int
	Issues   []Issue
	Duration time.Duration
}

// Consistent reports whether the scan found zero discrepancies.
func (r Report) Consistent() bool {
	return len(r.Issues) == 0
}

// Checker audits and repairs the three-way consistency invariant between
// the Metadata Store, Vector Store, and BM25 Index.
type Checker struct {
	metadata store.MetadataStore
	vector   store.VectorStore
	bm25     *bm25.Index
}

// New builds a Checker over the three live stores.
func New(metadata store.MetadataStore, vector store.VectorStore, idx *bm25.Index) *Checker {
	return &Checker{metadata: metadata, vector: vector, bm25: idx}
}

// Scan performs a full O(n) audit: it reads every chunk_id metadata
// considers live, and every id each index currently holds, then computes
// the symmetric differences.
func (c *Checker) Scan(ctx context.Context) (Report, error) {
	start := time.Now()

	metaIDs, err := c.metadata.AllChunkIDs(ctx)
	if err != nil {
		return Report{}, nexuserr.NewConsistency("consistency.scan", "failed to enumerate metadata chunk ids", err)
	}
	metaSet := toSet(metaIDs)
	vectorSet := toSet(c.vector.AllIDs())
	bm25Set := toSet(c.bm25.AllChunkIDs())

	var issues []Issue
	for id := range vectorSet {
		if !metaSet[id] {
			issues = append(issues, Issue{Kind: OrphanVector, ChunkID: id})
		}
	}
	for id := range bm25Set {
		if !metaSet[id] {
			issues = append(issues, Issue{Kind: OrphanBM25, ChunkID: id})
		}
	}
	for id := range metaSet {
		if !vectorSet[id] {
			issues = append(issues, Issue{Kind: MissingVector, ChunkID: id})
		}
		if !bm25Set[id] {
			issues = append(issues, Issue{Kind: MissingBM25, ChunkID: id})
		}
	}

	return Report{Checked: len(metaSet), Issues: issues, Duration: time.Since(start)}, nil
}

// QuickCheck compares only aggregate counts across the three stores,
// cheap enough to run on every startup without a full id enumeration.
func (c *Checker) QuickCheck(ctx context.Context) (bool, error) {
	stats, err := c.metadata.Stats(ctx)
	if err != nil {
		return false, nexuserr.NewConsistency("consistency.quick_check", "failed to read metadata stats", err)
	}
	return stats.Chunks == c.vector.Count() && stats.Chunks == c.bm25.DocCount(), nil
}

// Repair deletes orphaned index entries (safe: nothing else refers to
// them) and logs missing entries, which require re-ingesting the owning
// document to restore since the content to re-embed or re-tokenize is no
// longer available from a bare chunk_id.
func (c *Checker) Repair(ctx context.Context, issues []Issue) error {
	var orphanVector, orphanBM25 []string
	var missing int

	for _, issue := range issues {
		switch issue.Kind {
		case OrphanVector:
			orphanVector = append(orphanVector, issue.ChunkID)
		case OrphanBM25:
			orphanBM25 = append(orphanBM25, issue.ChunkID)
		case MissingVector, MissingBM25:
			missing++
		}
	}

	if len(orphanVector) > 0 {
		if err := c.vector.Delete(ctx, orphanVector); err != nil {
			return nexuserr.NewConsistency("consistency.repair.vector", "failed to delete orphan vector entries", err)
		}
		slog.Info("consistency repair: deleted orphan vector entries", slog.Int("count", len(orphanVector)))
	}

	for _, id := range orphanBM25 {
		c.bm25.Remove(id)
	}
	if len(orphanBM25) > 0 {
		slog.Info("consistency repair: deleted orphan bm25 entries", slog.Int("count", len(orphanBM25)))
	}

	if missing > 0 {
		slog.Warn("consistency repair: metadata references chunks missing from an index, re-ingest the owning document to restore them",
			slog.Int("missing_count", missing))
	}

	return nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
