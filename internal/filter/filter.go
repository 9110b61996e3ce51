// Package filter drops posts by tag blacklist, rating bounds and duplicate
// content hashes.
package filter

import (
	"fmt"
	"regexp"

	"github.com/ppiankov/boorufind/internal/source"
)

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile blacklist pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Rules selects which posts are kept.
type Rules struct {
	Blacklist []*regexp.Regexp
	MinRating source.Rating // RatingUnknown disables the bound
	MaxRating source.Rating
}

// Empty reports whether the rules keep every post.
func (r Rules) Empty() bool {
	return len(r.Blacklist) == 0 && r.MinRating == source.RatingUnknown && r.MaxRating == source.RatingUnknown
}

// Match returns the reason a post is rejected, or "" if it is kept.
func (r Rules) Match(p *source.Post) string {
	for _, tag := range p.Tags {
		for _, re := range r.Blacklist {
			if re.MatchString(tag) {
				return fmt.Sprintf("blacklisted tag %q", tag)
			}
		}
	}
	// Posts without a usable rating are only judged by the blacklist.
	if p.Rating == source.RatingUnknown {
		return ""
	}
	if r.MinRating != source.RatingUnknown && p.Rating < r.MinRating {
		return fmt.Sprintf("rating %s below %s", p.Rating, r.MinRating)
	}
	if r.MaxRating != source.RatingUnknown && p.Rating > r.MaxRating {
		return fmt.Sprintf("rating %s above %s", p.Rating, r.MaxRating)
	}
	return ""
}

// Apply returns the kept posts in order and the number dropped.
func (r Rules) Apply(posts []*source.Post) ([]*source.Post, int) {
	if r.Empty() {
		return posts, 0
	}
	kept := make([]*source.Post, 0, len(posts))
	for _, p := range posts {
		if r.Match(p) == "" {
			kept = append(kept, p)
		}
	}
	return kept, len(posts) - len(kept)
}

// DedupMD5 keeps the first post for every content hash. A post is dropped
// when any of its hashes was already seen. Posts without hashes are kept.
func DedupMD5(posts []*source.Post) []*source.Post {
	seen := make(map[string]bool)
	kept := make([]*source.Post, 0, len(posts))
	for _, p := range posts {
		sums := p.Hashes()
		dup := false
		for _, sum := range sums {
			if sum != "" && seen[sum] {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, sum := range sums {
			if sum != "" {
				seen[sum] = true
			}
		}
		kept = append(kept, p)
	}
	return kept
}
