package source

import (
	"strings"
	"unicode"
)

// ParseTags splits a query string into tags. Whitespace separates tags
// except inside parentheses, so "a ( b c ) d" yields "a", "( b c )", "d".
// Duplicates are dropped; order is kept.
func ParseTags(s string) []string {
	var (
		tags  []string
		seen  = make(map[string]bool)
		cur   strings.Builder
		depth int
	)
	flush := func() {
		tag := strings.TrimSpace(cur.String())
		cur.Reset()
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case unicode.IsSpace(r) && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return tags
}

// RewriteTags replaces tags that have an alias. The input is not modified.
func RewriteTags(tags []string, aliases map[string]string) []string {
	if len(aliases) == 0 {
		return tags
	}
	out := make([]string, len(tags))
	for i, tag := range tags {
		if alias, ok := aliases[tag]; ok {
			out[i] = alias
			continue
		}
		out[i] = tag
	}
	return out
}

func joinTags(tags []string) string {
	return strings.Join(tags, " ")
}
