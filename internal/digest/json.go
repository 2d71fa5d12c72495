package digest

import (
	"encoding/json"
	"io"
	"time"
)

type jsonDigest struct {
	Meta    jsonMeta       `json:"meta"`
	Payload map[string]any `json:"subreddits"`
}

type jsonMeta struct {
	GeneratedAt string   `json:"generated_at"`
	Order       []string `json:"order"`
	OK          int      `json:"ok"`
	Failed      int      `json:"failed"`
	Posts       int      `json:"posts"`
}

// JSONFormatter formats a digest as its JSON payload.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the digest as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, d Digest) error {
	ok, failed, posts := d.Counts()
	order := make([]string, 0, len(d.Sections))
	for _, sec := range d.Sections {
		order = append(order, sec.Subreddit)
	}

	out := jsonDigest{
		Meta: jsonMeta{
			GeneratedAt: d.GeneratedAt.UTC().Format(time.RFC3339),
			Order:       order,
			OK:          ok,
			Failed:      failed,
			Posts:       posts,
		},
		Payload: d.Payload(),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
