package filter

import (
	"sort"
	"strings"

	"github.com/ppiankov/boorufind/internal/source"
)

// Trend is a tag or origin URL seen on several boards in one result set.
type Trend struct {
	Keyword string   `json:"keyword"` // tag or origin URL
	Sources []string `json:"sources"` // distinct source names, sorted
}

// FindTrending returns tags and origin URLs appearing in minSources or more
// distinct sources. Tags listed in ignore are skipped.
func FindTrending(posts []*source.Post, minSources int, ignore []string) []Trend {
	if minSources < 2 {
		minSources = 2
	}

	skip := make(map[string]bool, len(ignore))
	for _, tag := range ignore {
		skip[strings.ToLower(tag)] = true
	}

	tagSources := make(map[string]map[string]bool)
	urlSources := make(map[string]map[string]bool)

	for _, p := range posts {
		if p == nil {
			continue
		}
		for _, tag := range p.Tags {
			tag = strings.ToLower(tag)
			if skip[tag] {
				continue
			}
			addSource(tagSources, tag, p.Source)
		}
		for _, u := range p.Sources {
			if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
				addSource(urlSources, u, p.Source)
			}
		}
	}

	// avoid listing a keyword twice when a tag looks like a URL
	seen := make(map[string]bool)
	var trends []Trend

	for tag, srcs := range tagSources {
		if len(srcs) < minSources {
			continue
		}
		trends = append(trends, Trend{Keyword: tag, Sources: sortedKeys(srcs)})
		seen[tag] = true
	}
	for u, srcs := range urlSources {
		if len(srcs) < minSources || seen[u] {
			continue
		}
		trends = append(trends, Trend{Keyword: u, Sources: sortedKeys(srcs)})
	}

	// Sort by source count descending, then keyword alphabetically
	sort.Slice(trends, func(i, j int) bool {
		if len(trends[i].Sources) != len(trends[j].Sources) {
			return len(trends[i].Sources) > len(trends[j].Sources)
		}
		return trends[i].Keyword < trends[j].Keyword
	})

	return trends
}

func addSource(m map[string]map[string]bool, key, src string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][src] = true
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
