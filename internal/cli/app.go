package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/ppiankov/subdigest/internal/config"
	"github.com/ppiankov/subdigest/internal/notify"
	"github.com/ppiankov/subdigest/internal/schedule"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

// loadConfig reads config.yaml from configDir. When allowMissing is set and
// the file does not exist, defaults are used instead.
func loadConfig(allowMissing bool) (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err == nil {
		return cfg, nil
	}
	if allowMissing && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// buildFetcher is swapped out in tests to keep commands off the network.
var buildFetcher = func(cfg *config.Config, logger *slog.Logger) schedule.Fetcher {
	return newFetcher(cfg, logger)
}

func newFetcher(cfg *config.Config, logger *slog.Logger) *source.Fetcher {
	return source.NewFetcher(source.Options{
		BaseURL:           cfg.Fetch.BaseURL,
		MirrorURL:         cfg.Fetch.MirrorURL,
		Timeout:           cfg.Fetch.Timeout.Duration,
		UserAgents:        cfg.Fetch.UserAgents,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		MinDelay:          cfg.Fetch.MinDelay.Duration,
		MaxDelay:          cfg.Fetch.MaxDelay.Duration,
		Logger:            logger,
	})
}

// newScheduler wires fetcher and notifier into a scheduler over db.
func newScheduler(cfg *config.Config, db schedule.SubscriptionStore, fetcher schedule.Fetcher, logger *slog.Logger) (*schedule.Scheduler, error) {
	n, err := notify.New(cfg.Notify, logger)
	if err != nil {
		return nil, fmt.Errorf("build notifier: %w", err)
	}
	return schedule.New(schedule.Options{
		Store:    db,
		Fetcher:  fetcher,
		Notifier: n,
		Logger:   logger,
		Location: cfg.Schedule.Location,
		Hour:     cfg.Schedule.Hour,
		Minute:   cfg.Schedule.Minute,
		Tick:     cfg.Schedule.Tick,
	})
}

// colorEnabled reports whether terminal output may use ANSI colors.
func colorEnabled(noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// housekeep drops expired sessions and digest history past retention.
func housekeep(ctx context.Context, db *store.Store, cfg *config.Config, logger *slog.Logger) {
	now := time.Now()
	if n, err := db.PruneSessions(ctx, now); err != nil {
		logger.Warn("prune sessions", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("pruned expired sessions", slog.Int64("count", n))
	}
	if n, err := db.PruneRuns(ctx, now, cfg.Storage.RetainDays); err != nil {
		logger.Warn("prune digest history", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("pruned digest history", slog.Int64("count", n), slog.Int("retain_days", cfg.Storage.RetainDays))
	}
}
