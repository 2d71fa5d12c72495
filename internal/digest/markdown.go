package digest

import (
	"fmt"
	"io"

	"github.com/ppiankov/subdigest/internal/source"
)

// MarkdownFormatter formats a digest as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes the digest as Markdown to w.
func (f *MarkdownFormatter) Format(w io.Writer, d Digest) error {
	ok, failed, posts := d.Counts()
	fmt.Fprintf(w, "# %s\n\n", d.Subject())
	fmt.Fprintf(w, "%d subreddits, %d posts", ok+failed, posts)
	if failed > 0 {
		fmt.Fprintf(w, ", %d unavailable", failed)
	}
	fmt.Fprint(w, "\n\n")

	if len(d.Sections) == 0 {
		fmt.Fprintln(w, "No subreddits selected.")
		return nil
	}

	for _, sec := range d.Sections {
		fmt.Fprintf(w, "## r/%s\n\n", sec.Subreddit)
		if !sec.OK() {
			fmt.Fprintf(w, "_%s_\n\n", Describe(sec.Reason))
			continue
		}
		for _, p := range sec.Posts {
			f.writePost(w, p, d)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func (f *MarkdownFormatter) writePost(w io.Writer, p source.Post, d Digest) {
	fmt.Fprintf(w, "%d. [%s](%s)  \n", p.Position, p.Title, p.URL)
	fmt.Fprintf(w, "   **%s** points · %d comments · u/%s · %s\n",
		points(p.Score), p.Comments, p.Author, age(p.Created, d.GeneratedAt))
}
