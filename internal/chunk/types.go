// Package chunk splits document bodies into structure-aware, overlapping
// windows suitable for embedding and BM25 indexing.
package chunk

import (
	"context"
)

// Chunk is a retrievable unit of content produced by a Chunker. CharStart
// and CharEnd are offsets into the full document body (after any
// frontmatter has been stripped and accounted for by the caller), so
// consecutive chunks from the same document overlap by design rather than
// drift apart.
type Chunk struct {
	ID          string
	DocumentID  string
	Ordinal     int
	Text        string
	CharStart   int
	CharEnd     int
	SectionPath []string
	TokenCount  int
}

// Input is what a Chunker consumes: one document's already-decoded body
// text, with any frontmatter already stripped by the caller.
type Input struct {
	DocumentID string
	Body       string

	// BodyOffset is the character offset of Body's first byte within the
	// original raw document (e.g. past a stripped frontmatter block), so
	// CharStart/CharEnd can be reported relative to the raw document.
	BodyOffset int
}

// Options configures window sizing. Both fields are token counts, where a
// token is approximated as one whitespace-delimited word — adequate for
// windowing purposes without depending on a model-specific tokenizer.
type Options struct {
	TargetTokens  int
	OverlapTokens int
}

// DefaultOptions mirrors the documented chunking defaults.
func DefaultOptions() Options {
	return Options{TargetTokens: 512, OverlapTokens: 50}
}

// Chunker splits a document body into chunks.
type Chunker interface {
	Chunk(ctx context.Context, input Input) ([]*Chunk, error)
}
