package digest

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/subdigest/internal/source"
)

// Result pairs a subreddit with the outcome of fetching it.
type Result struct {
	Subreddit string
	Outcome   source.Outcome
}

// Section is one subreddit's part of a digest. Reason is set when the
// fetch failed, in which case Posts is empty.
type Section struct {
	Subreddit string
	Posts     []source.Post
	Reason    source.Reason
}

// OK reports whether the section carries posts rather than an error.
func (s Section) OK() bool {
	return s.Reason == ""
}

// Digest is the content delivered to one subscriber.
type Digest struct {
	Email       string
	GeneratedAt time.Time
	Sections    []Section
}

// Build assembles a digest, keeping the order of results.
func Build(email string, generatedAt time.Time, results []Result) Digest {
	d := Digest{Email: email, GeneratedAt: generatedAt, Sections: make([]Section, 0, len(results))}
	for _, r := range results {
		sec := Section{Subreddit: r.Subreddit, Posts: []source.Post{}}
		switch {
		case r.Outcome.OK && len(r.Outcome.Posts) > 0:
			sec.Posts = r.Outcome.Posts
		case r.Outcome.OK:
			sec.Reason = source.ReasonEmpty
		default:
			sec.Reason = r.Outcome.Reason
			if sec.Reason == "" {
				sec.Reason = source.ReasonUpstreamUnavailable
			}
		}
		d.Sections = append(d.Sections, sec)
	}
	return d
}

// ErrorEntry stands in for a subreddit whose fetch failed.
type ErrorEntry struct {
	Error string `json:"error"`
}

// Payload maps each subreddit to its posts or to an ErrorEntry.
func (d Digest) Payload() map[string]any {
	out := make(map[string]any, len(d.Sections))
	for _, sec := range d.Sections {
		if sec.OK() {
			out[sec.Subreddit] = sec.Posts
			continue
		}
		out[sec.Subreddit] = ErrorEntry{Error: Describe(sec.Reason)}
	}
	return out
}

// Counts returns the number of successful and failed sections and the
// total number of posts.
func (d Digest) Counts() (ok, failed, posts int) {
	for _, sec := range d.Sections {
		if sec.OK() {
			ok++
			posts += len(sec.Posts)
		} else {
			failed++
		}
	}
	return ok, failed, posts
}

// Subject is the email subject line for the digest.
func (d Digest) Subject() string {
	return "Your Reddit digest for " + d.GeneratedAt.Format("January 2, 2006")
}

// Describe turns a failure reason into a reader-facing message.
func Describe(r source.Reason) string {
	switch r {
	case source.ReasonNotFound:
		return "Subreddit not found"
	case source.ReasonForbidden:
		return "Subreddit is private or restricted"
	case source.ReasonRateLimited:
		return "Rate limited by Reddit, try again later"
	case source.ReasonNetworkError:
		return "Network error while fetching posts"
	case source.ReasonEmpty:
		return "No posts found"
	default:
		return "Reddit is unavailable right now"
	}
}

// Formatter writes a formatted digest to w.
type Formatter interface {
	Format(w io.Writer, d Digest) error
}

// New returns the formatter registered under name, or nil.
func New(name string, color bool) Formatter {
	switch name {
	case "terminal":
		return NewTerminal(color)
	case "json":
		return NewJSON()
	case "markdown":
		return NewMarkdown()
	case "text":
		return NewText()
	case "html":
		return NewHTML()
	default:
		return nil
	}
}

// age renders a post's creation time relative to now, or the raw value
// when it is a source tag rather than a timestamp.
func age(created string, now time.Time) string {
	t, err := time.Parse(source.CreatedLayout, created)
	if err != nil {
		return created
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func points(score int) string {
	return humanize.Comma(int64(score))
}
