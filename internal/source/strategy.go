package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	maxBodyBytes     = 4 << 20
	breakerFailures  = 5
	breakerOpenFor   = 2 * time.Minute
	breakerInterval  = 10 * time.Minute
	acceptLanguage   = "en-US,en;q=0.9"
	defaultStrategyT = 15 * time.Second
)

// StrategyConfig holds the collaborators shared by the HTTP strategies.
type StrategyConfig struct {
	BaseURL  string // host requests are sent to
	LinkBase string // host used to build absolute post links; BaseURL when empty
	Client   *http.Client
	Agents   *Agents
	Pacer    *Pacer
	Logger   *slog.Logger
}

func (c StrategyConfig) withDefaults() StrategyConfig {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaultStrategyT}
	}
	if c.Agents == nil {
		c.Agents = NewAgents(nil)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.LinkBase == "" {
		c.LinkBase = c.BaseURL
	}
	return c
}

// parseFunc turns a 200 response body into posts. A non-nil error means
// the document itself could not be parsed.
type parseFunc func(body []byte, q Query) ([]Post, error)

// httpStrategy performs one GET against a listing surface and classifies
// the response.
type httpStrategy struct {
	name     string
	accept   string
	cfg      StrategyConfig
	buildURL func(q Query) string
	parse    parseFunc

	mu       sync.Mutex
	circuits map[string]*circuit // by lowercased subreddit
}

// circuit guards one subreddit on one strategy. last is the failure reason
// that most recently counted against it, replayed while it is open.
type circuit struct {
	breaker *gobreaker.CircuitBreaker

	mu   sync.Mutex
	last Reason
}

func (c *circuit) record(r Reason) {
	c.mu.Lock()
	c.last = r
	c.mu.Unlock()
}

func (c *circuit) lastReason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == "" {
		return ReasonUpstreamUnavailable
	}
	return c.last
}

var errAttemptFailed = errors.New("strategy attempt failed")

func newHTTPStrategy(name, accept string, cfg StrategyConfig, buildURL func(Query) string, parse parseFunc) *httpStrategy {
	return &httpStrategy{
		name:     name,
		accept:   accept,
		cfg:      cfg.withDefaults(),
		buildURL: buildURL,
		parse:    parse,
		circuits: make(map[string]*circuit),
	}
}

func (s *httpStrategy) circuitFor(subreddit string) *circuit {
	key := strings.ToLower(subreddit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.circuits[key]; ok {
		return c
	}

	logger := s.cfg.Logger
	c := &circuit{breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fetch-" + s.name + "-" + key,
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("fetch circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})}
	s.circuits[key] = c
	return c
}

func (s *httpStrategy) Name() string {
	return s.name
}

func (s *httpStrategy) Attempt(ctx context.Context, q Query) Outcome {
	start := time.Now()
	out := s.attempt(ctx, q)
	observeAttempt(s.name, out, time.Since(start))
	return out
}

func (s *httpStrategy) attempt(ctx context.Context, q Query) Outcome {
	if err := s.cfg.Pacer.Wait(ctx); err != nil {
		return Fail(ReasonNetworkError)
	}

	c := s.circuitFor(q.Name)
	var out Outcome
	_, err := c.breaker.Execute(func() (interface{}, error) {
		out = s.do(ctx, q)
		if out.Reason == ReasonUpstreamUnavailable || out.Reason == ReasonNetworkError {
			c.record(out.Reason)
			return nil, errAttemptFailed
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.cfg.Logger.Debug("strategy skipped, circuit open",
			slog.String("strategy", s.name),
			slog.String("subreddit", q.Name))
		return Fail(c.lastReason())
	}
	return out
}

func (s *httpStrategy) do(ctx context.Context, q Query) Outcome {
	target := s.buildURL(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		s.cfg.Logger.Debug("build request", slog.String("strategy", s.name), slog.Any("error", err))
		return Fail(ReasonNetworkError)
	}
	req.Header.Set("User-Agent", s.cfg.Agents.Next())
	req.Header.Set("Accept", s.accept)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		s.cfg.Logger.Debug("request failed",
			slog.String("strategy", s.name),
			slog.String("url", target),
			slog.Any("error", err))
		return Fail(ReasonNetworkError)
	}
	defer func() { _ = resp.Body.Close() }()

	if reason, ok := classifyStatus(resp.StatusCode); !ok {
		s.cfg.Logger.Debug("unexpected status",
			slog.String("strategy", s.name),
			slog.String("url", target),
			slog.Int("status", resp.StatusCode))
		return Fail(reason)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Fail(ReasonNetworkError)
	}

	posts, err := s.parse(body, q)
	if err != nil {
		s.cfg.Logger.Debug("unparseable body",
			slog.String("strategy", s.name),
			slog.String("url", target),
			slog.Any("error", err))
		return Fail(ReasonUpstreamUnavailable)
	}
	if len(posts) == 0 {
		return Fail(ReasonEmpty)
	}
	return Ok(posts)
}

// classifyStatus maps an HTTP status to a failure reason. ok is true only
// for 200.
func classifyStatus(status int) (Reason, bool) {
	switch {
	case status == http.StatusOK:
		return "", true
	case status == http.StatusForbidden:
		return ReasonForbidden, false
	case status == http.StatusNotFound:
		return ReasonNotFound, false
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited, false
	default:
		return ReasonUpstreamUnavailable, false
	}
}

func (s *httpStrategy) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.cfg.BaseURL)
}
