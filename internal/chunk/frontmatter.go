package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?`)

// ParseFrontmatter strips a leading YAML frontmatter block from raw, if
// present, returning it as a flattened string map plus the remaining body
// and the body's character offset within raw. Non-string frontmatter
// values are flattened rather than rejected, since the value only needs
// to support exact-match filtering: lists are joined with commas, and any
// other value is rendered in its default %v form.
func ParseFrontmatter(raw string) (map[string]string, string, int) {
	match := frontmatterPattern.FindStringSubmatchIndex(raw)
	if match == nil {
		return nil, raw, 0
	}

	block := raw[match[2]:match[3]]
	bodyStart := match[1]

	var decoded map[string]any
	if err := yaml.Unmarshal([]byte(block), &decoded); err != nil {
		// Malformed frontmatter: treat the whole thing as body text rather
		// than fail ingestion over a YAML syntax error.
		return nil, raw, 0
	}

	flat := make(map[string]string, len(decoded))
	for k, v := range decoded {
		flat[k] = flattenValue(v)
	}

	return flat, raw[bodyStart:], bodyStart
}

func flattenValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = flattenValue(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}
