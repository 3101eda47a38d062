package bm25

import (
	"regexp"
	"strings"
)

// wordRegex matches Unicode word runs; this is the tokenizer's only split
// rule — unlike a code-search tokenizer it does not split camelCase or
// snake_case, since index-time and query-time text here is prose.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize lowercases and word-splits text, dropping anything in
// stopWords. The same tokenizer is used at index time and query time; a
// mismatch between the two silently degrades scoring rather than erroring.
func Tokenize(text string, stopWords map[string]struct{}) []string {
	words := wordRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 2 {
			continue
		}
		if _, stop := stopWords[lower]; stop {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

// defaultStopWordList is a compact set of high-frequency English function
// words; callers with other corpora may supply their own set.
var defaultStopWordList = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "or", "that",
	"the", "to", "was", "were", "will", "with", "this", "these", "those",
	"but", "not", "have", "had", "can", "could", "would", "should",
	"do", "does", "did", "you", "your", "we", "our", "they", "their",
}

// DefaultStopWords returns the built-in stop-word set as a lookup map.
func DefaultStopWords() map[string]struct{} {
	return BuildStopWordSet(defaultStopWordList)
}

// BuildStopWordSet converts a slice of stop words into a lookup set.
func BuildStopWordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}
