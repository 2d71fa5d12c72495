package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	listingStrategyName = "json"
	mirrorStrategyName  = "mirror"

	// DefaultBaseURL is the primary Reddit host.
	DefaultBaseURL = "https://www.reddit.com"
	// DefaultMirrorURL is the alternate host tried last.
	DefaultMirrorURL = "https://old.reddit.com"

	listingAccept = "application/json"
	// CreatedLayout formats post timestamps.
	CreatedLayout = "2006-01-02 15:04 UTC"
)

// NewListingStrategy fetches the JSON listing from cfg.BaseURL.
func NewListingStrategy(cfg StrategyConfig) Strategy {
	return newJSONStrategy(listingStrategyName, cfg)
}

// NewMirrorStrategy fetches the same JSON listing from an alternate host.
// Post links still point at cfg.LinkBase.
func NewMirrorStrategy(cfg StrategyConfig) Strategy {
	return newJSONStrategy(mirrorStrategyName, cfg)
}

func newJSONStrategy(name string, cfg StrategyConfig) Strategy {
	cfg = cfg.withDefaults()
	base := cfg.BaseURL
	linkBase := cfg.LinkBase
	return newHTTPStrategy(name, listingAccept, cfg,
		func(q Query) string { return listingURL(base, q) },
		func(body []byte, q Query) ([]Post, error) {
			return parseListing(body, q.Name, linkBase, q.Limit, name)
		},
	)
}

func listingURL(base string, q Query) string {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("raw_json", "1")
	if q.Sort == SortTop {
		v.Set("t", string(q.TimeWindow))
	}
	return fmt.Sprintf("%s/r/%s/%s.json?%s",
		strings.TrimRight(base, "/"), url.PathEscape(q.Name), q.Sort, v.Encode())
}

// NormalizeListing converts a JSON listing body into at most limit posts.
// Malformed entries are skipped; an unparseable document yields no posts.
// tag is used as the Created value when an entry carries no timestamp.
func NormalizeListing(body []byte, subreddit, linkBase string, limit int, tag string) []Post {
	posts, _ := parseListing(body, subreddit, linkBase, limit, tag)
	return posts
}

var errNoListing = errors.New("response is not a listing")

func parseListing(body []byte, subreddit, linkBase string, limit int, tag string) ([]Post, error) {
	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return []Post{}, fmt.Errorf("decode listing: %w", err)
	}
	if listing.Data == nil {
		return []Post{}, errNoListing
	}

	posts := []Post{}
	for _, raw := range listing.Data.Children {
		if len(posts) >= limit {
			break
		}
		var child redditChild
		if err := json.Unmarshal(raw, &child); err != nil {
			continue
		}
		if child.Kind != "" && child.Kind != "t3" {
			continue
		}
		p, ok := postFromListing(child.Data, subreddit, linkBase, tag)
		if !ok {
			continue
		}
		p.Position = len(posts) + 1
		posts = append(posts, p)
	}
	return posts, nil
}

func postFromListing(rp redditPost, subreddit, linkBase, tag string) (Post, bool) {
	title := strings.TrimSpace(html.UnescapeString(rp.Title))
	if title == "" {
		return Post{}, false
	}

	author := strings.TrimSpace(rp.Author)
	if author == "" {
		author = unknownAuthor
	}

	created := tag
	if ts := lenientFloat(rp.CreatedUTC); ts > 0 {
		created = time.Unix(int64(ts), 0).UTC().Format(CreatedLayout)
	}

	return Post{
		Title:     title,
		Author:    author,
		Score:     int(lenientFloat(rp.Score)),
		Comments:  int(lenientFloat(rp.NumComments)),
		URL:       postLink(linkBase, subreddit, rp),
		Created:   created,
		Subreddit: subreddit,
	}, true
}

func postLink(linkBase, subreddit string, rp redditPost) string {
	base := strings.TrimRight(linkBase, "/")
	switch {
	case strings.HasPrefix(rp.Permalink, "http://"), strings.HasPrefix(rp.Permalink, "https://"):
		return rp.Permalink
	case strings.HasPrefix(rp.Permalink, "/"):
		return base + rp.Permalink
	case strings.HasPrefix(rp.URL, "http://"), strings.HasPrefix(rp.URL, "https://"):
		return rp.URL
	default:
		return base + "/r/" + subreddit + "/"
	}
}

// lenientFloat reads a JSON number or numeric string, returning 0 for
// anything else.
func lenientFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

type redditListing struct {
	Data *struct {
		Children []json.RawMessage `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Kind string     `json:"kind"`
	Data redditPost `json:"data"`
}

type redditPost struct {
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Score       json.RawMessage `json:"score"`
	NumComments json.RawMessage `json:"num_comments"`
	Permalink   string          `json:"permalink"`
	URL         string          `json:"url"`
	CreatedUTC  json.RawMessage `json:"created_utc"`
}
