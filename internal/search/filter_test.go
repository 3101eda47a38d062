package search

import (
	"testing"
	"time"

	"github.com/nexuscore/nexus/internal/store"
)

func TestParseFilterParsesAllClauseKinds(t *testing.T) {
	f, err := ParseFilter("tag:tutorial,source:src1,kind:file,since:2024-01-15T00:00:00Z,path:go/internal")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if len(f.Tags) != 1 || f.Tags[0] != "tutorial" {
		t.Errorf("expected tag tutorial, got %v", f.Tags)
	}
	if f.SourceID != "src1" {
		t.Errorf("expected source src1, got %q", f.SourceID)
	}
	if f.Kind != store.SourceKindFile {
		t.Errorf("expected kind file, got %q", f.Kind)
	}
	wantTime, _ := time.Parse(time.RFC3339, "2024-01-15T00:00:00Z")
	if !f.Since.Equal(wantTime) {
		t.Errorf("expected since %v, got %v", wantTime, f.Since)
	}
	if f.SectionPathPrefix != "go/internal" {
		t.Errorf("expected path prefix go/internal, got %q", f.SectionPathPrefix)
	}
}

func TestParseFilterEmptyStringIsZero(t *testing.T) {
	f, err := ParseFilter("")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if !f.IsZero() {
		t.Error("expected zero filter for empty string")
	}
}

func TestParseFilterRejectsMalformedClause(t *testing.T) {
	if _, err := ParseFilter("not-a-clause"); err == nil {
		t.Error("expected error for clause missing a colon")
	}
	if _, err := ParseFilter("kind:bogus"); err == nil {
		t.Error("expected error for unknown kind value")
	}
	if _, err := ParseFilter("since:not-a-date"); err == nil {
		t.Error("expected error for malformed ISO8601 date")
	}
}

func TestExtractFilterHintConsumesLeadingClauses(t *testing.T) {
	hint, remainder, err := ExtractFilterHint("tag:tutorial source:src1 neural networks")
	if err != nil {
		t.Fatalf("ExtractFilterHint: %v", err)
	}
	if remainder != "neural networks" {
		t.Errorf("expected remainder %q, got %q", "neural networks", remainder)
	}
	if len(hint.Tags) != 1 || hint.Tags[0] != "tutorial" {
		t.Errorf("expected hint tag tutorial, got %v", hint.Tags)
	}
	if hint.SourceID != "src1" {
		t.Errorf("expected hint source src1, got %q", hint.SourceID)
	}
}

func TestExtractFilterHintNoneWhenQueryHasNoClausePrefix(t *testing.T) {
	hint, remainder, err := ExtractFilterHint("how does retrieval work")
	if err != nil {
		t.Fatalf("ExtractFilterHint: %v", err)
	}
	if !hint.IsZero() {
		t.Error("expected zero hint when query has no leading clauses")
	}
	if remainder != "how does retrieval work" {
		t.Errorf("expected remainder unchanged, got %q", remainder)
	}
}

func TestMergeFiltersCallerWinsOnScalarFields(t *testing.T) {
	hint := store.ChunkFilter{SourceID: "hint-src", Tags: []string{"hint-tag"}}
	caller := store.ChunkFilter{SourceID: "caller-src"}

	merged := MergeFilters(hint, caller)
	if merged.SourceID != "caller-src" {
		t.Errorf("expected caller source to win, got %q", merged.SourceID)
	}
	if len(merged.Tags) != 1 || merged.Tags[0] != "hint-tag" {
		t.Errorf("expected hint tags to carry through, got %v", merged.Tags)
	}
}
