package source

import "time"

// Comment is a user comment on a post. Identity is (Source, ID).
type Comment struct {
	ID        int64  `json:"comment_id"`
	PostID    int64  `json:"post_id"`
	CreatorID int64  `json:"creator_id"`
	Creator   string `json:"creator"`
	Body      string `json:"body"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"created_at"` // unix seconds, as reported by the source
}

// Note is a positioned annotation on a post's primary image. Identity is (Source, ID).
type Note struct {
	ID        int64  `json:"note_id"`
	PostID    int64  `json:"post_id"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Body      string `json:"body"` // source markup, unmodified
	Source    string `json:"source"`
	CreatedAt int64  `json:"created_at"`
}

// unixSeconds parses a source timestamp, trying the layouts boorus use.
// Unparseable values yield 0.
func unixSeconds(value string, layouts ...string) int64 {
	if value == "" {
		return 0
	}
	if len(layouts) == 0 {
		layouts = []string{time.RFC3339Nano, time.RFC3339}
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Unix()
		}
	}
	return 0
}
