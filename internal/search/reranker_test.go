package search

import (
	"context"
	"testing"
)

func TestNoOpRerankerPreservesOrder(t *testing.T) {
	r := &NoOpReranker{}
	docs := []string{"first", "second", "third"}
	results, err := r.Rerank(context.Background(), "query", docs, 0)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	for i, res := range results {
		if res.Index != i || res.Document != docs[i] {
			t.Errorf("expected original order preserved at %d, got %+v", i, res)
		}
		if i > 0 && res.Score >= results[i-1].Score {
			t.Error("expected strictly decreasing scores to preserve stable order")
		}
	}
}

func TestHeuristicRerankerRanksOverlapHigher(t *testing.T) {
	r := NewHeuristicReranker()
	docs := []string{
		"a document about gardening and houseplants",
		"hybrid retrieval combines dense vector search with sparse keyword scoring",
		"an unrelated recipe for bread",
	}
	results, err := r.Rerank(context.Background(), "dense vector retrieval scoring", docs, 0)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if results[0].Document != docs[1] {
		t.Errorf("expected the retrieval-related document to rank first, got %q", results[0].Document)
	}
}

func TestHeuristicRerankerRespectsTopK(t *testing.T) {
	r := NewHeuristicReranker()
	docs := []string{"alpha beta", "gamma delta", "epsilon zeta"}
	results, err := r.Rerank(context.Background(), "alpha", docs, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results with topK=2, got %d", len(results))
	}
}

func TestHeuristicRerankerAvailableAndClose(t *testing.T) {
	r := NewHeuristicReranker()
	if !r.Available(context.Background()) {
		t.Error("expected heuristic reranker to always be available")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
