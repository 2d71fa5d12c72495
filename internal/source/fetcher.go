package source

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Options configures NewFetcher.
type Options struct {
	BaseURL           string        // primary host, DefaultBaseURL when empty
	MirrorURL         string        // alternate host, DefaultMirrorURL when empty
	Timeout           time.Duration // per-request timeout
	UserAgents        []string      // rotation pool, DefaultUserAgents when empty
	RequestsPerSecond float64       // shared outbound rate, unlimited when <= 0
	MinDelay          time.Duration // lower bound of the random pre-request delay
	MaxDelay          time.Duration // upper bound of the random pre-request delay
	Client            *http.Client  // overrides the client built from Timeout
	Logger            *slog.Logger
}

// Fetcher retrieves subreddit listings by trying its strategies in order
// until one yields posts.
type Fetcher struct {
	strategies []Strategy
	linkBase   string
	logger     *slog.Logger
}

// NewFetcher builds the default chain: feed, JSON listing, then mirror.
func NewFetcher(opts Options) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MirrorURL == "" {
		opts.MirrorURL = DefaultMirrorURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultStrategyT
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	shared := StrategyConfig{
		BaseURL:  opts.BaseURL,
		LinkBase: opts.BaseURL,
		Client:   opts.Client,
		Agents:   NewAgents(opts.UserAgents),
		Pacer:    NewPacer(opts.RequestsPerSecond, opts.MinDelay, opts.MaxDelay),
		Logger:   opts.Logger,
	}
	mirror := shared
	mirror.BaseURL = opts.MirrorURL

	return New(opts.Logger, opts.BaseURL,
		NewFeedStrategy(shared),
		NewListingStrategy(shared),
		NewMirrorStrategy(mirror),
	)
}

// New creates a fetcher over an explicit strategy chain. linkBase fills in
// post links a strategy could not resolve.
func New(logger *slog.Logger, linkBase string, strategies ...Strategy) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if linkBase == "" {
		linkBase = DefaultBaseURL
	}
	return &Fetcher{strategies: strategies, linkBase: linkBase, logger: logger}
}

// Strategies returns the names of the configured strategies in order.
func (f *Fetcher) Strategies() []string {
	names := make([]string, 0, len(f.strategies))
	for _, s := range f.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Fetch returns up to q.Limit posts for the subreddit in q. It never
// returns an error: every failure is reported as a Reason on the outcome.
//
// The final reason is that of the last strategy tried, unless some
// strategy reported not_found or private_or_forbidden, in which case the
// first such reason wins.
func (f *Fetcher) Fetch(ctx context.Context, q Query) Outcome {
	q, valid := q.Normalize()
	log := f.logger.With(slog.String("subreddit", q.Name), slog.String("sort", string(q.Sort)))

	if !valid {
		log.Info("rejected subreddit name")
		out := Fail(ReasonNotFound)
		observeOutcome(out)
		return out
	}

	final := ReasonUpstreamUnavailable
	var definitive Reason
	for _, s := range f.strategies {
		out := f.attempt(ctx, s, q)
		if out.OK && len(out.Posts) > 0 {
			out = Ok(f.finalize(out.Posts, q))
			log.Info("fetched",
				slog.String("strategy", s.Name()),
				slog.Int("posts", len(out.Posts)))
			observeOutcome(out)
			return out
		}

		reason := out.Reason
		if out.OK || reason == "" {
			reason = ReasonEmpty
		}
		log.Warn("strategy failed",
			slog.String("strategy", s.Name()),
			slog.String("reason", string(reason)))

		if reason.Definitive() && definitive == "" {
			definitive = reason
		}
		final = reason
	}
	if definitive != "" {
		final = definitive
	}

	out := Fail(final)
	log.Warn("all strategies failed", slog.String("reason", string(final)))
	observeOutcome(out)
	return out
}

// attempt runs one strategy, turning a panic into upstream_unavailable.
func (f *Fetcher) attempt(ctx context.Context, s Strategy, q Query) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("strategy panicked",
				slog.String("strategy", s.Name()),
				slog.Any("panic", r))
			out = Fail(ReasonUpstreamUnavailable)
		}
	}()
	return s.Attempt(ctx, q)
}

// finalize truncates to the limit and renumbers positions 1..n, filling in
// any field a strategy left empty.
func (f *Fetcher) finalize(posts []Post, q Query) []Post {
	if len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}
	out := make([]Post, 0, len(posts))
	for i, p := range posts {
		p.Position = i + 1
		if strings.TrimSpace(p.Title) == "" {
			p.Title = untitled
		}
		if p.Author == "" {
			p.Author = unknownAuthor
		}
		if p.URL == "" {
			p.URL = strings.TrimRight(f.linkBase, "/") + "/r/" + q.Name + "/"
		}
		p.Subreddit = q.Name
		out = append(out, p)
	}
	return out
}
