// Package bm25 implements a classic BM25 posting-list index with
// incremental add/remove, persisted as a compact binary dictionary +
// posting-list file plus a parallel per-chunk length file.
package bm25

import (
	"math"
	"sort"
	"sync"
)

// Config holds the BM25 scoring parameters.
type Config struct {
	K1 float64
	B  float64
}

// DefaultConfig returns the standard BM25 parameterization.
func DefaultConfig() Config {
	return Config{K1: 1.2, B: 0.75}
}

// Result is a single scored hit from Search.
type Result struct {
	ChunkID string
	Score   float64
}

// Index is a mutable, in-memory BM25 posting-list index. All methods are
// safe for concurrent use; Add/Remove take the write lock, Search and the
// read accessors (DocCount, TermCount, AvgDocLen, ...) take the read lock.
type Index struct {
	mu sync.RWMutex

	cfg Config

	// postings[term][chunkID] = term frequency within that chunk.
	postings map[string]map[string]uint32
	// df[term] = number of chunks containing term at least once.
	df map[string]uint32
	// lengths[chunkID] = token count of that chunk.
	lengths map[string]uint32

	totalLen uint64 // sum of all lengths, maintained incrementally
}

// New creates an empty BM25 index.
func New(cfg Config) *Index {
	return &Index{
		cfg:      cfg,
		postings: make(map[string]map[string]uint32),
		df:       make(map[string]uint32),
		lengths:  make(map[string]uint32),
	}
}

// DocCount is the number of live chunks in the index.
func (idx *Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.lengths)
}

// TermCount is the number of distinct terms in the dictionary.
func (idx *Index) TermCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings)
}

// AvgDocLen is the mean chunk length across all live chunks.
func (idx *Index) AvgDocLen() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.avgDocLenLocked()
}

func (idx *Index) avgDocLenLocked() float64 {
	if len(idx.lengths) == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(len(idx.lengths))
}

// Add inserts or replaces chunkID's postings. If chunkID already exists its
// old postings are removed first, so re-adding with new tokens behaves as
// an update rather than a duplicate.
func (idx *Index) Add(chunkID string, tokens []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.lengths[chunkID]; exists {
		idx.removeLocked(chunkID)
	}

	tf := make(map[string]uint32, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	for term, freq := range tf {
		postingList, ok := idx.postings[term]
		if !ok {
			postingList = make(map[string]uint32)
			idx.postings[term] = postingList
		}
		postingList[chunkID] = freq
		idx.df[term]++
	}

	idx.lengths[chunkID] = uint32(len(tokens))
	idx.totalLen += uint64(len(tokens))
}

// Remove deletes chunkID's postings. Terms whose document frequency drops
// to zero are dropped from the dictionary entirely.
func (idx *Index) Remove(chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunkID)
}

func (idx *Index) removeLocked(chunkID string) {
	length, exists := idx.lengths[chunkID]
	if !exists {
		return
	}

	for term, postingList := range idx.postings {
		if _, has := postingList[chunkID]; !has {
			continue
		}
		delete(postingList, chunkID)
		if idx.df[term] > 0 {
			idx.df[term]--
		}
		if idx.df[term] == 0 {
			delete(idx.postings, term)
			delete(idx.df, term)
		}
	}

	delete(idx.lengths, chunkID)
	idx.totalLen -= uint64(length)
}

// Contains reports whether chunkID is currently indexed.
func (idx *Index) Contains(chunkID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.lengths[chunkID]
	return ok
}

// AllChunkIDs enumerates every live chunk id, for consistency auditing.
func (idx *Index) AllChunkIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0, len(idx.lengths))
	for id := range idx.lengths {
		ids = append(ids, id)
	}
	return ids
}

// Search scores queryTokens against every chunk that shares at least one
// term, applies filter as a post-filter on candidates, then truncates to
// k — so a restrictive filter never starves the result by pruning before
// scoring is complete.
func (idx *Index) Search(queryTokens []string, k int, filter func(chunkID string) bool) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if k <= 0 || len(idx.lengths) == 0 {
		return nil
	}

	n := float64(len(idx.lengths))
	avgdl := idx.avgDocLenLocked()

	scores := make(map[string]float64)
	seen := make(map[string]struct{})

	for _, term := range queryTokens {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		postingList, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := float64(idx.df[term])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)

		for chunkID, tf := range postingList {
			length := float64(idx.lengths[chunkID])
			denom := float64(tf) + idx.cfg.K1*(1-idx.cfg.B+idx.cfg.B*length/avgdl)
			scores[chunkID] += idf * (float64(tf) * (idx.cfg.K1 + 1)) / denom
		}
	}

	results := make([]Result, 0, len(scores))
	for chunkID, score := range scores {
		if filter != nil && !filter(chunkID) {
			continue
		}
		results = append(results, Result{ChunkID: chunkID, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
