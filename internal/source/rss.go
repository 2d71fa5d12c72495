package source

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
)

const (
	feedStrategyName = "rss"
	feedAccept       = "application/atom+xml, application/rss+xml;q=0.9, application/xml;q=0.8, */*;q=0.5"
	unknownAuthor    = "unknown"
	untitled         = "No title"
)

var (
	authorRe    = regexp.MustCompile(`(?i)\bby\s+/?u/([A-Za-z0-9_-]+)`)
	pointsRe    = regexp.MustCompile(`(?i)(-?\d[\d,]*)\s+points?\b`)
	commentsRe  = regexp.MustCompile(`(?i)(\d[\d,]*)\s+comments?\b`)
	titleByRe   = regexp.MustCompile(`(?i)\s*[-:|]?\s*(?:submitted\s+)?by\s+/?u/[A-Za-z0-9_-]+\s*$`)
	spaceRunsRe = regexp.MustCompile(`\s+`)
)

var errUnknownFeed = errors.New("body is neither RSS nor Atom")

// NewFeedStrategy fetches the subreddit's syndication feed.
func NewFeedStrategy(cfg StrategyConfig) Strategy {
	cfg = cfg.withDefaults()
	base := cfg.BaseURL
	return newHTTPStrategy(feedStrategyName, feedAccept, cfg,
		func(q Query) string { return feedURL(base, q) },
		func(body []byte, q Query) ([]Post, error) {
			return parseFeed(body, q.Name, q.Limit)
		},
	)
}

func feedURL(base string, q Query) string {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(q.Limit))
	if q.Sort == SortTop {
		v.Set("t", string(q.TimeWindow))
	}
	return fmt.Sprintf("%s/r/%s/%s/.rss?%s",
		strings.TrimRight(base, "/"), url.PathEscape(q.Name), q.Sort, v.Encode())
}

// NormalizeFeed converts an RSS or Atom document into at most limit posts.
// Entries without a title are skipped; an unparseable document yields no
// posts.
func NormalizeFeed(body []byte, subreddit string, limit int) []Post {
	posts, _ := parseFeed(body, subreddit, limit)
	return posts
}

// parseFeed sniffs the document type and hands it to a parser dedicated to
// that format, so a failure in one never leaks into the other.
func parseFeed(body []byte, subreddit string, limit int) ([]Post, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeAtom:
		fp := &atom.Parser{}
		feed, err := fp.Parse(bytes.NewReader(body))
		if err != nil {
			return []Post{}, fmt.Errorf("parse atom: %w", err)
		}
		return postsFromAtom(feed, subreddit, limit), nil
	case gofeed.FeedTypeRSS:
		fp := &rss.Parser{}
		feed, err := fp.Parse(bytes.NewReader(body))
		if err != nil {
			return []Post{}, fmt.Errorf("parse rss: %w", err)
		}
		return postsFromRSS(feed, subreddit, limit), nil
	default:
		return []Post{}, errUnknownFeed
	}
}

// feedEntry is the format-independent view of one feed item.
type feedEntry struct {
	title   string
	link    string
	author  string
	content string
	created *time.Time
}

func postsFromAtom(feed *atom.Feed, subreddit string, limit int) []Post {
	entries := make([]feedEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if e == nil {
			continue
		}
		fe := feedEntry{title: e.Title, created: e.PublishedParsed}
		if fe.created == nil {
			fe.created = e.UpdatedParsed
		}
		for _, l := range e.Links {
			if l != nil && l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
				fe.link = l.Href
				break
			}
		}
		if len(e.Authors) > 0 && e.Authors[0] != nil {
			fe.author = e.Authors[0].Name
		}
		if e.Content != nil {
			fe.content = e.Content.Value
		}
		if fe.content == "" {
			fe.content = e.Summary
		}
		entries = append(entries, fe)
	}
	return postsFromEntries(entries, subreddit, limit)
}

func postsFromRSS(feed *rss.Feed, subreddit string, limit int) []Post {
	entries := make([]feedEntry, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		fe := feedEntry{
			title:   it.Title,
			link:    it.Link,
			content: it.Content,
			created: it.PubDateParsed,
		}
		if fe.content == "" {
			fe.content = it.Description
		}
		if it.DublinCoreExt != nil && len(it.DublinCoreExt.Creator) > 0 {
			fe.author = it.DublinCoreExt.Creator[0]
		}
		entries = append(entries, fe)
	}
	return postsFromEntries(entries, subreddit, limit)
}

func postsFromEntries(entries []feedEntry, subreddit string, limit int) []Post {
	posts := []Post{}
	for _, fe := range entries {
		if len(posts) >= limit {
			break
		}
		rawTitle := strings.TrimSpace(html.UnescapeString(fe.title))
		if rawTitle == "" {
			continue
		}

		text := htmlText(fe.content)

		author := cleanAuthor(fe.author)
		if author == "" {
			author = extractAuthor(rawTitle + " " + text)
		}
		if author == "" {
			author = unknownAuthor
		}

		created := feedStrategyName
		if fe.created != nil && !fe.created.IsZero() {
			created = fe.created.UTC().Format(CreatedLayout)
		}

		posts = append(posts, Post{
			Position:  len(posts) + 1,
			Title:     cleanTitle(rawTitle),
			Author:    author,
			Score:     extractCount(pointsRe, text),
			Comments:  extractCount(commentsRe, text),
			URL:       fe.link,
			Created:   created,
			Subreddit: subreddit,
		})
	}
	return posts
}

// htmlText reduces an HTML fragment to its visible text on one line.
func htmlText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(html.UnescapeString(fragment))
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRunsRe.ReplaceAllString(s, " "))
}

// cleanTitle drops a trailing "by /u/name" annotation.
func cleanTitle(title string) string {
	t := strings.TrimSpace(titleByRe.ReplaceAllString(title, ""))
	if t == "" {
		return untitled
	}
	return t
}

func cleanAuthor(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	if len(name) > 2 && strings.EqualFold(name[:2], "u/") {
		name = name[2:]
	}
	return name
}

func extractAuthor(text string) string {
	m := authorRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func extractCount(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}
