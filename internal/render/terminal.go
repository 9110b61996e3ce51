package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/boorufind/internal/source"
)

// TerminalFormatter formats results for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes posts, comments and notes to w, then any failed sources.
func (f *TerminalFormatter) Format(w io.Writer, in Input) error {
	header := fmt.Sprintf("boorufind — %s", in.Title)
	if len(in.Posts) > 0 {
		header += fmt.Sprintf(" — %s posts from %d sources",
			humanize.Comma(int64(len(in.Posts))), sourceCount(in.Posts))
	}
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if in.empty() {
		fmt.Fprintln(w, "Nothing found.")
	}

	for _, p := range in.Posts {
		f.writePost(w, p)
	}

	if len(in.Comments) > 0 {
		fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Comments (%d) ---", len(in.Comments))))
		fmt.Fprintln(w)
		for _, c := range in.Comments {
			f.writeComment(w, c)
		}
	}

	if len(in.Notes) > 0 {
		fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Notes (%d) ---", len(in.Notes))))
		fmt.Fprintln(w)
		for _, n := range in.Notes {
			fmt.Fprintf(w, "  %s %s\n", f.bold(fmt.Sprintf("[%s #%d]", n.Source, n.ID)),
				f.dim(fmt.Sprintf("at %d,%d size %dx%d", n.X, n.Y, n.Width, n.Height)))
			fmt.Fprintf(w, "      %s\n", n.Body)
		}
		fmt.Fprintln(w)
	}

	if len(in.Trending) > 0 {
		fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Trending (%d) ---", len(in.Trending))))
		fmt.Fprintln(w)
		for _, tr := range in.Trending {
			fmt.Fprintf(w, "  %s %s\n", tr.Keyword, f.dim("on "+strings.Join(tr.Sources, ", ")))
		}
		fmt.Fprintln(w)
	}

	if in.Dropped > 0 {
		fmt.Fprintln(w, f.dim(fmt.Sprintf("Filtered: %d posts", in.Dropped)))
	}
	for _, u := range in.failures() {
		fmt.Fprintln(w, f.red(fmt.Sprintf("Failed: %s: %s", u.Unit, errorText(u.Err))))
	}
	return nil
}

func (f *TerminalFormatter) writePost(w io.Writer, p *source.Post) {
	meta := []string{p.Rating.String()}
	if d := dimensions(p); d != "" {
		meta = append(meta, d)
	}
	if len(p.Images) > 1 {
		meta = append(meta, fmt.Sprintf("%d images", len(p.Images)))
	}
	if p.IsVideo() {
		meta = append(meta, "video")
	}

	fmt.Fprintf(w, "  %s %s — %s\n",
		f.bold(fmt.Sprintf("[%s]", p.Key())),
		f.dim("("+strings.Join(meta, ", ")+")"),
		shortTags(p.Tags),
	)
	if img := p.Image(); img != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(img))
	}
	if p.ParentID != 0 {
		fmt.Fprintf(w, "      %s\n", f.dim(fmt.Sprintf("parent: #%d", p.ParentID)))
	}
	if len(p.Authors) > 0 {
		fmt.Fprintf(w, "      %s\n", f.dim("by "+strings.Join(p.Authors, ", ")))
	}
	fmt.Fprintln(w)
}

func (f *TerminalFormatter) writeComment(w io.Writer, c source.Comment) {
	when := ""
	if ts := unixTime(c.CreatedAt); !ts.IsZero() {
		when = " " + f.dim(humanize.Time(ts))
	}
	fmt.Fprintf(w, "  %s %s on #%d%s\n",
		f.bold(fmt.Sprintf("[%s #%d]", c.Source, c.ID)),
		c.Creator,
		c.PostID,
		when,
	)
	fmt.Fprintf(w, "      %s\n", c.Body)
}

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) red(s string) string {
	if !f.color {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
