package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/boorufind/internal/source"
)

// MarkdownFormatter formats results as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes the results as Markdown to w.
func (f *MarkdownFormatter) Format(w io.Writer, in Input) error {
	fmt.Fprintf(w, "# boorufind: %s\n\n", in.Title)

	if in.empty() {
		fmt.Fprintln(w, "Nothing found.")
	}

	if len(in.Posts) > 0 {
		fmt.Fprintf(w, "%d posts from %d sources\n\n", len(in.Posts), sourceCount(in.Posts))
		for _, p := range in.Posts {
			f.writePost(w, p)
		}
	}

	if len(in.Comments) > 0 {
		fmt.Fprintf(w, "## Comments (%d)\n\n", len(in.Comments))
		for _, c := range in.Comments {
			when := ""
			if ts := unixTime(c.CreatedAt); !ts.IsZero() {
				when = ", " + humanize.Time(ts)
			}
			fmt.Fprintf(w, "- **%s** on %s #%d%s: %s\n", c.Creator, c.Source, c.PostID, when, oneLine(c.Body))
		}
		fmt.Fprintln(w)
	}

	if len(in.Notes) > 0 {
		fmt.Fprintf(w, "## Notes (%d)\n\n", len(in.Notes))
		for _, n := range in.Notes {
			fmt.Fprintf(w, "- `%d,%d %dx%d` %s\n", n.X, n.Y, n.Width, n.Height, oneLine(n.Body))
		}
		fmt.Fprintln(w)
	}

	if len(in.Trending) > 0 {
		fmt.Fprintf(w, "## Trending (%d)\n\n", len(in.Trending))
		for _, tr := range in.Trending {
			fmt.Fprintf(w, "- `%s` on %s\n", tr.Keyword, strings.Join(tr.Sources, ", "))
		}
		fmt.Fprintln(w)
	}

	if in.Dropped > 0 {
		fmt.Fprintf(w, "*Filtered: %d posts*\n", in.Dropped)
	}
	if fails := in.failures(); len(fails) > 0 {
		fmt.Fprintf(w, "\n## Failed sources\n\n")
		for _, u := range fails {
			fmt.Fprintf(w, "- %s: %s\n", u.Unit, errorText(u.Err))
		}
	}
	return nil
}

func (f *MarkdownFormatter) writePost(w io.Writer, p *source.Post) {
	fmt.Fprintf(w, "### %s (%s)\n\n", p.Key(), p.Rating)

	if img := p.Image(); img != "" {
		fmt.Fprintf(w, "[Image](%s)", img)
		if d := dimensions(p); d != "" {
			fmt.Fprintf(w, " %s", d)
		}
		fmt.Fprintf(w, "\n\n")
	}
	if len(p.Tags) > 0 {
		parts := make([]string, 0, min(len(p.Tags), maxTags))
		for _, t := range p.Tags[:min(len(p.Tags), maxTags)] {
			parts = append(parts, "`"+t+"`")
		}
		fmt.Fprintf(w, "Tags: %s\n\n", strings.Join(parts, " "))
	}
	if p.ParentID != 0 {
		fmt.Fprintf(w, "Parent: #%d\n\n", p.ParentID)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
