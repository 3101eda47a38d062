package embed

import (
	"context"
	"testing"
)

func TestNewBuildsCachedStaticEmbedder(t *testing.T) {
	e := New("static-768", 768, 0)
	if e.Dimensions() != 768 {
		t.Errorf("expected 768 dims, got %d", e.Dimensions())
	}
	if e.ModelID() != "static-768" {
		t.Errorf("expected model id static-768, got %s", e.ModelID())
	}

	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected New to return a *CachedEmbedder, got %T", e)
	}

	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
}
