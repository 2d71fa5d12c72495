package digest

import (
	"fmt"
	"io"

	"github.com/ppiankov/subdigest/internal/source"
)

// TerminalFormatter formats a digest for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes the digest to w, one block per subreddit.
func (f *TerminalFormatter) Format(w io.Writer, d Digest) error {
	ok, failed, posts := d.Counts()

	header := fmt.Sprintf("subdigest — %d subreddits, %d posts, %s",
		ok+failed, posts, d.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if len(d.Sections) == 0 {
		fmt.Fprintln(w, "No subreddits selected.")
		return nil
	}

	for _, sec := range d.Sections {
		if !sec.OK() {
			fmt.Fprintln(w, f.yellow(f.bold(fmt.Sprintf("--- r/%s ---", sec.Subreddit))))
			fmt.Fprintf(w, "  %s\n\n", f.dim(Describe(sec.Reason)))
			continue
		}
		fmt.Fprintln(w, f.green(f.bold(fmt.Sprintf("--- r/%s (%d) ---", sec.Subreddit, len(sec.Posts)))))
		fmt.Fprintln(w)
		for _, p := range sec.Posts {
			f.writePost(w, p, d)
		}
	}

	if failed > 0 {
		fmt.Fprintln(w, f.dim(fmt.Sprintf("Unavailable: %d subreddits", failed)))
	}
	return nil
}

func (f *TerminalFormatter) writePost(w io.Writer, p source.Post, d Digest) {
	fmt.Fprintf(w, "  %d. %s %s\n", p.Position, f.bold("["+points(p.Score)+"]"), p.Title)
	fmt.Fprintf(w, "      %s\n", f.dim(fmt.Sprintf("u/%s · %d comments · %s",
		p.Author, p.Comments, age(p.Created, d.GeneratedAt))))
	if p.URL != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(p.URL))
	}
	fmt.Fprintln(w)
}

// ANSI helpers, no-op without color.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
