// Package schedule sends due subscriber digests on a fixed daily slot.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/notify"
	"github.com/ppiankov/subdigest/internal/privacy"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

const defaultTick = "@every 1m"

// ErrNotify marks a digest that was composed and scheduled but not
// delivered.
var ErrNotify = errors.New("digest not delivered")

// SubscriptionStore is the persistence the scheduler needs.
type SubscriptionStore interface {
	Due(ctx context.Context, now time.Time) ([]store.Subscription, error)
	MarkSent(ctx context.Context, userID string, next time.Time) error
	RecordDigest(ctx context.Context, userID string, sentAt time.Time, d digest.Digest) error
}

// Fetcher retrieves one subreddit listing.
type Fetcher interface {
	Fetch(ctx context.Context, q source.Query) source.Outcome
}

// Options configures a Scheduler.
type Options struct {
	Store    SubscriptionStore
	Fetcher  Fetcher
	Notifier notify.Notifier
	Logger   *slog.Logger

	Location *time.Location // zone of the daily send slot; UTC when nil
	Hour     int
	Minute   int
	Tick     string // cron spec for the due check
	Limit    int    // posts per subreddit; source.MaxLimit when 0

	Now func() time.Time
}

// Report summarizes one RunDue pass.
type Report struct {
	Due          int
	Sent         int
	NotifyFailed int
	Errors       int
}

// Scheduler turns due subscriptions into delivered digests.
type Scheduler struct {
	store    SubscriptionStore
	fetcher  Fetcher
	notifier notify.Notifier
	logger   *slog.Logger
	loc      *time.Location
	hour     int
	minute   int
	tick     string
	limit    int
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New validates opts and returns a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("schedule: store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("schedule: fetcher is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("schedule: notifier is required")
	}
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("schedule: invalid send time %02d:%02d", opts.Hour, opts.Minute)
	}

	s := &Scheduler{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		loc:      opts.Location,
		hour:     opts.Hour,
		minute:   opts.Minute,
		tick:     opts.Tick,
		limit:    opts.Limit,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.tick == "" {
		s.tick = defaultTick
	}
	if s.limit <= 0 || s.limit > source.MaxLimit {
		s.limit = source.MaxLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// NextSend returns the first hour:minute wall-clock slot in loc strictly
// after now.
func NextSend(now time.Time, loc *time.Location, hour, minute int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for !next.After(now) {
		local = local.AddDate(0, 0, 1)
		next = time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	}
	return next
}

// NextSend returns the scheduler's next slot strictly after now.
func (s *Scheduler) NextSend(now time.Time) time.Time {
	return NextSend(now, s.loc, s.hour, s.minute)
}

// Compose fetches every subreddit of sub, one at a time and in order, and
// assembles the digest. A failed subreddit never aborts the rest.
func (s *Scheduler) Compose(ctx context.Context, sub store.Subscription, now time.Time) digest.Digest {
	results := make([]digest.Result, 0, len(sub.Subreddits))
	for _, name := range sub.Subreddits {
		out := s.fetcher.Fetch(ctx, source.Query{
			Name:       name,
			Sort:       sub.Sort,
			TimeWindow: sub.TimeWindow,
			Limit:      s.limit,
		})
		if !out.OK {
			s.logger.Info("subreddit fetch failed",
				slog.String("subreddit", name),
				slog.String("reason", string(out.Reason)))
		}
		results = append(results, digest.Result{Subreddit: name, Outcome: out})
	}
	return digest.Build(sub.Email, now, results)
}

// Deliver composes and sends sub's digest, records it and moves
// next_send_at to the following slot. A notifier error is returned but does
// not hold back the schedule.
func (s *Scheduler) Deliver(ctx context.Context, sub store.Subscription, now time.Time) (digest.Digest, error) {
	d := s.Compose(ctx, sub, now)
	logger := s.logger.With(slog.String("user_id", sub.UserID), slog.String("email", privacy.MaskEmail(sub.Email)))

	notifyErr := s.notifier.Notify(ctx, sub.Email, d)
	if notifyErr != nil {
		logger.Error("digest delivery failed", slog.Any("error", notifyErr))
	}

	if err := s.store.RecordDigest(ctx, sub.UserID, now, d); err != nil {
		logger.Warn("record digest", slog.Any("error", err))
	}

	next := s.NextSend(now)
	if err := s.store.MarkSent(ctx, sub.UserID, next); err != nil {
		return d, fmt.Errorf("mark sent: %w", err)
	}

	ok, failed, posts := d.Counts()
	logger.Info("digest processed",
		slog.Int("subreddits_ok", ok),
		slog.Int("subreddits_failed", failed),
		slog.Int("posts", posts),
		slog.Bool("delivered", notifyErr == nil),
		slog.Time("next_send_at", next))

	if notifyErr != nil {
		return d, fmt.Errorf("%w: %w", ErrNotify, notifyErr)
	}
	return d, nil
}

// RunDue delivers every subscription due at now, sequentially.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) (Report, error) {
	start := time.Now()
	var rep Report

	due, err := s.store.Due(ctx, now)
	if err != nil {
		observeRun("error", time.Since(start))
		return rep, fmt.Errorf("load due subscriptions: %w", err)
	}
	rep.Due = len(due)

	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			observeRun("canceled", time.Since(start))
			return rep, err
		}

		_, err := s.Deliver(ctx, sub, now)
		switch {
		case err == nil:
			rep.Sent++
			observeDigest("sent")
		case errors.Is(err, ErrNotify):
			rep.NotifyFailed++
			observeDigest("notify_error")
		default:
			rep.Errors++
			observeDigest("error")
			s.logger.Error("digest failed",
				slog.String("user_id", sub.UserID),
				slog.Any("error", err))
		}
	}

	observeRun("ok", time.Since(start))
	if rep.Due > 0 {
		s.logger.Info("due digests processed",
			slog.Int("due", rep.Due),
			slog.Int("sent", rep.Sent),
			slog.Int("notify_failed", rep.NotifyFailed),
			slog.Int("errors", rep.Errors))
	}
	return rep, nil
}

// Start registers the due check with cron and starts it. Ticks never
// overlap; a tick that finds the previous one still running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("schedule: already started")
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.tick, func() {
		if _, err := s.RunDue(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Error("due check failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule: add tick %q: %w", s.tick, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("scheduler started",
		slog.String("tick", s.tick),
		slog.String("timezone", s.loc.String()),
		slog.String("send_time", fmt.Sprintf("%02d:%02d", s.hour, s.minute)))
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}
