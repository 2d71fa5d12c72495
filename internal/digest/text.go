package digest

import (
	"fmt"
	"io"
	"strings"
)

// TextFormatter formats a digest as plain text, used for email bodies.
type TextFormatter struct{}

// NewText creates a plain text formatter.
func NewText() *TextFormatter {
	return &TextFormatter{}
}

// Format writes the digest as plain text to w.
func (f *TextFormatter) Format(w io.Writer, d Digest) error {
	subject := d.Subject()
	fmt.Fprintln(w, subject)
	fmt.Fprintln(w, strings.Repeat("=", len(subject)))
	fmt.Fprintln(w)

	if len(d.Sections) == 0 {
		fmt.Fprintln(w, "No subreddits selected.")
		return nil
	}

	for _, sec := range d.Sections {
		fmt.Fprintf(w, "r/%s\n", sec.Subreddit)
		if !sec.OK() {
			fmt.Fprintf(w, "  (%s)\n\n", Describe(sec.Reason))
			continue
		}
		for _, p := range sec.Posts {
			fmt.Fprintf(w, "  %d. %s\n", p.Position, p.Title)
			fmt.Fprintf(w, "     %s points, %d comments, by u/%s, %s\n",
				points(p.Score), p.Comments, p.Author, age(p.Created, d.GeneratedAt))
			fmt.Fprintf(w, "     %s\n", p.URL)
		}
		fmt.Fprintln(w)
	}
	return nil
}
