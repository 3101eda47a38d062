package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testVector(dims int, seed float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = seed + float32(i)*0.01
	}
	return v
}

func TestHNSWStoreUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(8))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	defer s.Close()

	ids := []string{"c1", "c2", "c3"}
	vecs := [][]float32{testVector(8, 1.0), testVector(8, 2.0), testVector(8, 1.05)}
	payloads := []VectorPayload{
		{SourceID: "s1", DocumentID: "d1"},
		{SourceID: "s1", DocumentID: "d2"},
		{SourceID: "s2", DocumentID: "d3"},
	}

	if err := s.Upsert(ctx, ids, vecs, payloads); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if s.Count() != 3 {
		t.Fatalf("expected count 3, got %d", s.Count())
	}

	results, err := s.Search(ctx, testVector(8, 1.0), 2, ChunkFilter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "c1" {
		t.Errorf("expected closest match c1, got %s", results[0].ID)
	}
}

func TestHNSWStoreSearchWithFilter(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	defer s.Close()

	ids := []string{"a", "b", "c"}
	vecs := [][]float32{testVector(4, 1.0), testVector(4, 1.01), testVector(4, 1.02)}
	payloads := []VectorPayload{
		{SourceID: "s1"},
		{SourceID: "s2"},
		{SourceID: "s1"},
	}

	if err := s.Upsert(ctx, ids, vecs, payloads); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search(ctx, testVector(4, 1.0), 5, ChunkFilter{SourceID: "s1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 filtered results, got %d", len(results))
	}
	for _, r := range results {
		if r.ID != "a" && r.ID != "c" {
			t.Errorf("unexpected id %s leaked past filter", r.ID)
		}
	}
}

func TestHNSWStoreUpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	defer s.Close()

	if err := s.Upsert(ctx, []string{"a"}, [][]float32{testVector(4, 1.0)}, []VectorPayload{{SourceID: "old"}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, []string{"a"}, [][]float32{testVector(4, 5.0)}, []VectorPayload{{SourceID: "new"}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if s.Count() != 1 {
		t.Fatalf("expected count 1 after replace, got %d", s.Count())
	}

	results, err := s.Search(ctx, testVector(4, 1.0), 1, ChunkFilter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestHNSWStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	defer s.Close()

	ids := []string{"a", "b"}
	vecs := [][]float32{testVector(4, 1.0), testVector(4, 2.0)}
	payloads := []VectorPayload{{}, {}}
	if err := s.Upsert(ctx, ids, vecs, payloads); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.Delete(ctx, []string{"a"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if s.Contains("a") {
		t.Error("expected a to be deleted")
	}
	if !s.Contains("b") {
		t.Error("expected b to still exist")
	}
	if s.Count() != 1 {
		t.Fatalf("expected count 1 after delete, got %d", s.Count())
	}

	results, err := s.Search(ctx, testVector(4, 1.0), 5, ChunkFilter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.ID == "a" {
			t.Error("deleted id a appeared in search results")
		}
	}
}

func TestHNSWStoreDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	defer s.Close()

	err = s.Upsert(ctx, []string{"a"}, [][]float32{testVector(8, 1.0)}, []VectorPayload{{}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if _, ok := err.(ErrDimensionMismatch); !ok {
		t.Errorf("expected ErrDimensionMismatch, got %T: %v", err, err)
	}
}

func TestHNSWStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.idx")

	s, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}

	ids := []string{"a", "b", "c"}
	vecs := [][]float32{testVector(4, 1.0), testVector(4, 2.0), testVector(4, 3.0)}
	payloads := []VectorPayload{
		{SourceID: "s1", IndexedAt: time.Now()},
		{SourceID: "s2", IndexedAt: time.Now()},
		{SourceID: "s1", IndexedAt: time.Now()},
	}
	if err := s.Upsert(ctx, ids, vecs, payloads); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(4))
	if err != nil {
		t.Fatalf("NewHNSWStore: %v", err)
	}
	defer loaded.Close()

	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Count() != 3 {
		t.Fatalf("expected count 3 after load, got %d", loaded.Count())
	}

	results, err := loaded.Search(ctx, testVector(4, 1.0), 5, ChunkFilter{SourceID: "s1"})
	if err != nil {
		t.Fatalf("Search after load: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 filtered results after load, got %d", len(results))
	}
}

func TestReadHNSWStoreDimensionsNoFile(t *testing.T) {
	dims, err := ReadHNSWStoreDimensions(filepath.Join(t.TempDir(), "missing.idx"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if dims != 0 {
		t.Errorf("expected 0 dims for missing file, got %d", dims)
	}
}
