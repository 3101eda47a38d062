package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexuscore/nexus/internal/store"
)

// ParseFilter parses the filter grammar: a comma-separated list of
// clauses, implicitly ANDed.
//
//	filter := clause ("," clause)*
//	clause := tag:<string> | source:<source_id> | kind:<kind> |
//	          since:<ISO8601> | path:<glob-prefix>
func ParseFilter(raw string) (store.ChunkFilter, error) {
	var f store.ChunkFilter
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return f, nil
	}

	for _, clause := range strings.Split(raw, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		key, value, ok := strings.Cut(clause, ":")
		if !ok {
			return f, fmt.Errorf("malformed filter clause %q: expected key:value", clause)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return f, fmt.Errorf("malformed filter clause %q: empty value", clause)
		}

		switch strings.TrimSpace(key) {
		case "tag":
			f.Tags = append(f.Tags, value)
		case "source":
			f.SourceID = value
		case "kind":
			kind := store.SourceKind(value)
			switch kind {
			case store.SourceKindDirectory, store.SourceKindFile, store.SourceKindAPI, store.SourceKindAdHoc:
				f.Kind = kind
			default:
				return f, fmt.Errorf("unknown kind %q", value)
			}
		case "since":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				t, err = time.Parse(time.DateOnly, value)
			}
			if err != nil {
				return f, fmt.Errorf("malformed since value %q: %w", value, err)
			}
			f.Since = t
		case "path":
			// The glob is reduced to a section-path prefix; trailing
			// wildcard characters are stripped since matching is prefix-only.
			f.SectionPathPrefix = strings.TrimRight(value, "*")
		default:
			return f, fmt.Errorf("unknown filter clause key %q", key)
		}
	}
	return f, nil
}

// hintKeys are the clause keys recognized in a leading key:value token
// when detecting filter hints at the start of a query.
var hintKeys = map[string]struct{}{
	"tag": {}, "source": {}, "kind": {}, "since": {}, "path": {},
}

// ExtractFilterHint consumes leading key:value tokens from query (e.g.
// "tag:tutorial neural networks") and returns the parsed hint filter plus
// the remaining query text. Tokens stop at the first word that isn't
// clause-shaped.
func ExtractFilterHint(query string) (store.ChunkFilter, string, error) {
	fields := strings.Fields(query)
	var hintClauses []string
	consumed := 0

	for _, field := range fields {
		key, _, ok := strings.Cut(field, ":")
		if !ok {
			break
		}
		if _, known := hintKeys[key]; !known {
			break
		}
		hintClauses = append(hintClauses, field)
		consumed++
	}

	if consumed == 0 {
		return store.ChunkFilter{}, query, nil
	}

	hint, err := ParseFilter(strings.Join(hintClauses, ","))
	if err != nil {
		return store.ChunkFilter{}, query, err
	}

	remainder := strings.TrimSpace(strings.Join(fields[consumed:], " "))
	return hint, remainder, nil
}

// MergeFilters combines a query-prefix hint with the caller-provided
// filter. The result is not a strict conjunction of the two: for scalar
// fields, an explicit caller value replaces the hint's value (the hint's
// value is dropped, not also required); Tags from both sides are unioned,
// so a chunk carrying any one tag from either side matches.
func MergeFilters(hint, caller store.ChunkFilter) store.ChunkFilter {
	merged := caller

	if merged.SourceID == "" {
		merged.SourceID = hint.SourceID
	}
	if merged.DocumentID == "" {
		merged.DocumentID = hint.DocumentID
	}
	if merged.Kind == "" {
		merged.Kind = hint.Kind
	}
	if merged.Since.IsZero() {
		merged.Since = hint.Since
	}
	if merged.SectionPathPrefix == "" {
		merged.SectionPathPrefix = hint.SectionPathPrefix
	}
	if len(hint.Tags) > 0 {
		merged.Tags = append(append([]string{}, caller.Tags...), hint.Tags...)
	}

	return merged
}
