package embed

// New builds the core's configured embedder: a deterministic static
// embedder wrapped with an LRU query cache. modelID and dimensions come
// from the embedding configuration; cacheSize <= 0 uses the default.
func New(modelID string, dimensions, cacheSize int) Embedder {
	inner := NewStaticEmbedder(dimensions, modelID)
	return NewCachedEmbedder(inner, cacheSize)
}
