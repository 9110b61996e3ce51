package render

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/ppiankov/boorufind/internal/filter"
	"github.com/ppiankov/boorufind/internal/source"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonResult struct {
	Meta     jsonMeta         `json:"meta"`
	Posts    []*source.Post   `json:"posts"`
	Comments []source.Comment `json:"comments,omitempty"`
	Notes    []source.Note    `json:"notes,omitempty"`
	Trending []filter.Trend   `json:"trending,omitempty"`
	Failures []jsonFailure    `json:"failures,omitempty"`
}

type jsonMeta struct {
	Title   string `json:"title"`
	Posts   int    `json:"posts"`
	Sources int    `json:"sources"`
	Dropped int    `json:"dropped"`
}

type jsonFailure struct {
	Unit  string `json:"unit"`
	Error string `json:"error"`
}

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the results as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, in Input) error {
	posts := in.Posts
	if posts == nil {
		posts = []*source.Post{}
	}
	out := jsonResult{
		Meta: jsonMeta{
			Title:   in.Title,
			Posts:   len(in.Posts),
			Sources: sourceCount(in.Posts),
			Dropped: in.Dropped,
		},
		Posts:    posts,
		Comments: in.Comments,
		Notes:    in.Notes,
		Trending: in.Trending,
	}
	for _, u := range in.failures() {
		out.Failures = append(out.Failures, jsonFailure{Unit: u.Unit, Error: u.Err.Error()})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
