package search

import (
	"sort"

	"github.com/nexuscore/nexus/internal/bm25"
	"github.com/nexuscore/nexus/internal/store"
)

// DefaultRRFConstant is the rrf_k used when a Config doesn't specify one.
const DefaultRRFConstant = 60

// fusedResult is one chunk's fused rank, before hydration and rerank.
type fusedResult struct {
	ChunkID     string
	RRFScore    float64
	BM25Score   float64
	BM25Rank    int // 1-indexed, 0 if absent
	VecScore    float64
	VecRank     int // 1-indexed, 0 if absent
	InBothLists bool
}

// RRFFusion implements Reciprocal Rank Fusion over a dense and a sparse
// ranked list. rank(id) = ∞ for a list the id is absent from, which
// contributes exactly zero to that side of the sum — absence is never
// penalized beyond that.
type RRFFusion struct {
	K     int
	Alpha float64 // weight on the dense (vector) side
}

// NewRRFFusion builds a fusion stage with the default k and alpha.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant, Alpha: 0.5}
}

// NewRRFFusionWithParams builds a fusion stage with explicit k and alpha.
func NewRRFFusionWithParams(k int, alpha float64) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k, Alpha: alpha}
}

// Fuse combines dense and sparse ranked lists. A chunk id appearing in
// either list is scored; a chunk id absent from both never appears.
func (f *RRFFusion) Fuse(dense []*store.VectorResult, sparse []*bm25.Result) []*fusedResult {
	byID := make(map[string]*fusedResult)

	for i, v := range dense {
		r := getOrCreate(byID, v.ID)
		r.VecScore = float64(v.Score)
		r.VecRank = i + 1
	}
	for i, s := range sparse {
		r := getOrCreate(byID, s.ChunkID)
		r.BM25Score = s.Score
		r.BM25Rank = i + 1
	}

	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}
	alpha := f.Alpha

	for _, r := range byID {
		r.InBothLists = r.VecRank > 0 && r.BM25Rank > 0

		var denseContribution, sparseContribution float64
		if r.VecRank > 0 {
			denseContribution = 1.0 / float64(k+r.VecRank)
		}
		if r.BM25Rank > 0 {
			sparseContribution = 1.0 / float64(k+r.BM25Rank)
		}
		r.RRFScore = alpha*denseContribution + (1-alpha)*sparseContribution
	}

	return toSortedSlice(byID)
}

func getOrCreate(m map[string]*fusedResult, chunkID string) *fusedResult {
	if r, ok := m[chunkID]; ok {
		return r
	}
	r := &fusedResult{ChunkID: chunkID}
	m[chunkID] = r
	return r
}

func toSortedSlice(m map[string]*fusedResult) []*fusedResult {
	out := make([]*fusedResult, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return compare(out[i], out[j])
	})
	return out
}

// compare implements the tie-break chain: RRF score desc, then dense score
// desc, then chunk id asc.
func compare(a, b *fusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.VecScore != b.VecScore {
		return a.VecScore > b.VecScore
	}
	return a.ChunkID < b.ChunkID
}
