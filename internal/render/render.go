// Package render formats query results for the terminal, JSON and Markdown.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/filter"
	"github.com/ppiankov/boorufind/internal/source"
)

const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// maxTags caps the tags shown per post in human-readable output.
const maxTags = 12

// Input is one result set. Only populated sections are written.
type Input struct {
	Title    string // query description, e.g. `search "sky"`
	Posts    []*source.Post
	Comments []source.Comment
	Notes    []source.Note
	Trending []filter.Trend
	Dropped  int   // posts removed by filters
	Err      error // partial failure returned with the results, if any
}

// Formatter writes a formatted result set to w.
type Formatter interface {
	Format(w io.Writer, in Input) error
}

// New returns the formatter for a format name.
func New(format string, color bool) (Formatter, error) {
	switch strings.ToLower(format) {
	case "", FormatTerminal:
		return NewTerminal(color), nil
	case FormatJSON:
		return NewJSON(), nil
	case FormatMarkdown, "md":
		return NewMarkdown(), nil
	}
	return nil, fmt.Errorf("unknown format %q (want terminal, json or markdown)", format)
}

func (in Input) empty() bool {
	return len(in.Posts) == 0 && len(in.Comments) == 0 && len(in.Notes) == 0
}

// failures lists per-unit errors carried by in.Err.
func (in Input) failures() []errs.UnitError {
	if in.Err == nil {
		return nil
	}
	if p, ok := errs.AsPartial(in.Err); ok {
		return p.Units
	}
	return []errs.UnitError{{Unit: "query", Err: in.Err}}
}

func sourceCount(posts []*source.Post) int {
	seen := make(map[string]bool)
	for _, p := range posts {
		seen[p.Source] = true
	}
	return len(seen)
}

func shortTags(tags []string) string {
	if len(tags) <= maxTags {
		return strings.Join(tags, " ")
	}
	return fmt.Sprintf("%s (+%d)", strings.Join(tags[:maxTags], " "), len(tags)-maxTags)
}

func dimensions(p *source.Post) string {
	if len(p.Dimensions) == 0 || p.Dimensions[0].Width == 0 {
		return ""
	}
	d := p.Dimensions[0]
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func errorText(err error) string {
	var terr *errs.TransportError
	if errors.As(err, &terr) && terr.Status != 0 {
		return fmt.Sprintf("HTTP %d", terr.Status)
	}
	return err.Error()
}
