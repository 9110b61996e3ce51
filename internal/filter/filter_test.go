package filter

import (
	"testing"

	"github.com/ppiankov/boorufind/internal/source"
)

func TestCompile_Valid(t *testing.T) {
	patterns, err := Compile([]string{`^gore$`, `(?i)^guro`})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(patterns) != 2 {
		t.Errorf("got %d patterns, want 2", len(patterns))
	}
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile([]string{`[invalid`})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestCompile_Empty(t *testing.T) {
	patterns, err := Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(patterns) != 0 {
		t.Errorf("got %d patterns, want 0", len(patterns))
	}
}

func TestRules_Blacklist(t *testing.T) {
	patterns, _ := Compile([]string{`^spoilers$`})
	r := Rules{Blacklist: patterns}

	posts := []*source.Post{
		{ID: 1, Tags: []string{"sky", "spoilers"}},
		{ID: 2, Tags: []string{"sky", "spoilers_free"}},
	}
	kept, dropped := r.Apply(posts)
	if dropped != 1 || len(kept) != 1 || kept[0].ID != 2 {
		t.Errorf("kept = %v, dropped = %d", kept, dropped)
	}
	if reason := r.Match(posts[0]); reason != `blacklisted tag "spoilers"` {
		t.Errorf("reason = %q", reason)
	}
}

func TestRules_RatingBounds(t *testing.T) {
	r := Rules{MaxRating: source.RatingSensitive}
	posts := []*source.Post{
		{ID: 1, Rating: source.RatingGeneral},
		{ID: 2, Rating: source.RatingExplicit},
		{ID: 3, Rating: source.RatingUnknown},
	}
	kept, dropped := r.Apply(posts)
	if dropped != 1 || len(kept) != 2 || kept[1].ID != 3 {
		t.Errorf("kept = %v, dropped = %d", kept, dropped)
	}

	floor := Rules{MinRating: source.RatingQuestionable}
	if floor.Match(posts[0]) == "" {
		t.Error("general should fall below questionable")
	}
}

func TestRules_EmptyKeepsAll(t *testing.T) {
	posts := []*source.Post{{ID: 1}, {ID: 2}}
	kept, dropped := Rules{}.Apply(posts)
	if dropped != 0 || len(kept) != 2 {
		t.Errorf("kept = %d, dropped = %d", len(kept), dropped)
	}
}

func TestDedupMD5(t *testing.T) {
	posts := []*source.Post{
		{ID: 1, Source: "danbooru", MD5: []string{"aaa"}},
		{ID: 9, Source: "gelbooru", MD5: []string{"aaa"}},
		{ID: 2, Source: "danbooru", MD5: []string{"bbb", "ccc"}},
		{ID: 3, Source: "konachan", MD5: []string{"ccc"}},
		{ID: 4, Source: "feed"},
		{ID: 5, Source: "feed"},
	}
	kept := DedupMD5(posts)
	var ids []int64
	for _, p := range kept {
		ids = append(ids, p.ID)
	}
	want := []int64{1, 2, 4, 5}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
}
