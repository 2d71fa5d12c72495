package source

import (
	"context"
	"regexp"
	"strings"
)

// MaxLimit is the most posts a single fetch returns per subreddit.
const MaxLimit = 5

// Post is one normalized entry of a subreddit listing.
type Post struct {
	Position  int    `json:"position"`  // 1-based rank within one fetch result
	Title     string `json:"title"`     // never empty, "No title" fallback
	Author    string `json:"author"`    // username or "unknown"
	Score     int    `json:"score"`     // upvotes, 0 when unavailable
	Comments  int    `json:"comments"`  // comment count, 0 when unavailable
	URL       string `json:"url"`       // absolute link to the post
	Created   string `json:"created"`   // display timestamp or source tag
	Subreddit string `json:"subreddit"` // bare subreddit name
}

// Sort selects the subreddit listing.
type Sort string

const (
	SortHot Sort = "hot"
	SortNew Sort = "new"
	SortTop Sort = "top"
)

// TimeWindow narrows a "top" listing.
type TimeWindow string

const (
	WindowDay   TimeWindow = "day"
	WindowWeek  TimeWindow = "week"
	WindowMonth TimeWindow = "month"
	WindowYear  TimeWindow = "year"
	WindowAll   TimeWindow = "all"
)

// Query describes one subreddit listing request.
type Query struct {
	Name       string
	Sort       Sort
	TimeWindow TimeWindow
	Limit      int
}

var subredditNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]{1,20}$`)

// Normalize returns a copy of q with a bare name, a known sort and time
// window, and a limit in 1..MaxLimit. The second return value reports
// whether the name is a plausible subreddit name.
func (q Query) Normalize() (Query, bool) {
	name := strings.TrimSpace(q.Name)
	name = strings.TrimPrefix(name, "/")
	if len(name) > 2 && strings.EqualFold(name[:2], "r/") {
		name = name[2:]
	}
	name = strings.TrimSuffix(name, "/")
	q.Name = name

	q.Sort = ParseSort(string(q.Sort))
	q.TimeWindow = ParseTimeWindow(string(q.TimeWindow))

	if q.Limit <= 0 || q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	return q, subredditNameRe.MatchString(name)
}

// ParseSort maps s to a Sort, defaulting to hot.
func ParseSort(s string) Sort {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case SortNew:
		return SortNew
	case SortTop:
		return SortTop
	default:
		return SortHot
	}
}

// ParseTimeWindow maps s to a TimeWindow, defaulting to day.
func ParseTimeWindow(s string) TimeWindow {
	switch TimeWindow(strings.ToLower(strings.TrimSpace(s))) {
	case WindowWeek:
		return WindowWeek
	case WindowMonth:
		return WindowMonth
	case WindowYear:
		return WindowYear
	case WindowAll:
		return WindowAll
	default:
		return WindowDay
	}
}

// Reason classifies why a fetch produced no posts.
type Reason string

const (
	ReasonNotFound            Reason = "not_found"
	ReasonForbidden           Reason = "private_or_forbidden"
	ReasonRateLimited         Reason = "rate_limited"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
	ReasonNetworkError        Reason = "network_error"
	ReasonEmpty               Reason = "empty"
)

// Definitive reports whether r describes the subreddit itself rather than
// a transient condition of one transport.
func (r Reason) Definitive() bool {
	return r == ReasonNotFound || r == ReasonForbidden
}

// Outcome is the result of a fetch: posts on success, a reason otherwise.
type Outcome struct {
	OK     bool   `json:"ok"`
	Posts  []Post `json:"posts"`
	Reason Reason `json:"error,omitempty"`
}

// Ok returns a successful outcome.
func Ok(posts []Post) Outcome {
	if posts == nil {
		posts = []Post{}
	}
	return Outcome{OK: true, Posts: posts}
}

// Fail returns a failed outcome with the given reason.
func Fail(reason Reason) Outcome {
	return Outcome{Posts: []Post{}, Reason: reason}
}

// Strategy is one transport approach for retrieving a subreddit listing.
type Strategy interface {
	// Name identifies the strategy in logs and metrics (e.g. "rss").
	Name() string

	// Attempt performs a single retrieval. It never returns posts together
	// with a failure reason.
	Attempt(ctx context.Context, q Query) Outcome
}
