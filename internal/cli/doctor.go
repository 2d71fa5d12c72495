package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/subdigest/internal/config"
	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/schedule"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

var doctorProbe string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, database and upstream reachability",
	RunE:  doctorAction,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorProbe, "probe", "", "subreddit to fetch as a live upstream check (e.g. golang)")
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ctx := cmd.Context()
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(w, false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(w, true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(w, false, "config.yaml: %v", err)
		ok = false
	} else {
		next := schedule.NextSend(time.Now(), cfg.Schedule.Location, cfg.Schedule.Hour, cfg.Schedule.Minute)
		printCheck(w, true, "config.yaml (digests at %s %s, next %s)",
			cfg.Schedule.SendTime, cfg.Schedule.Timezone, next.Format("2006-01-02 15:04 MST"))
	}

	// Notifier
	if cfg != nil {
		switch cfg.Notify.Mode {
		case "smtp":
			if cfg.Notify.SMTP.Username != "" && cfg.Notify.SMTP.Password == "" {
				printCheck(w, false, "smtp password: $%s is empty", cfg.Notify.SMTP.PasswordEnv)
				ok = false
			} else {
				printCheck(w, true, "smtp %s:%d (tls %s)", cfg.Notify.SMTP.Host, cfg.Notify.SMTP.Port, cfg.Notify.SMTP.TLS)
			}
		default:
			printInfo(w, "notify mode is %q: digests are written to the log, not mailed", cfg.Notify.Mode)
		}
	}

	// Database
	var db *store.Store
	if cfg != nil {
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			printCheck(w, false, "database: %v", err)
			ok = false
		} else {
			defer func() { _ = db.Close() }()
			if !checkDatabase(ctx, w, db, cfg.Storage.Path) {
				ok = false
			}
		}
	}

	// Live upstream probe
	if cfg != nil && doctorProbe != "" {
		out := buildFetcher(cfg, nil).Fetch(ctx, source.Query{Name: doctorProbe, Limit: 1})
		if out.OK {
			printCheck(w, true, "fetch r/%s", doctorProbe)
		} else {
			printCheck(w, false, "fetch r/%s: %s", doctorProbe, digest.Describe(out.Reason))
			ok = false
		}
	}

	// Subreddit health (info-level, non-fatal)
	if db != nil {
		checkSubredditHealth(ctx, w, db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(w, "\nAll checks passed.")
	return nil
}

// checkDatabase reports schema version and row counts, failing when any
// of them cannot be read.
func checkDatabase(ctx context.Context, w io.Writer, db *store.Store, path string) bool {
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		printCheck(w, false, "database %s: schema version: %v", path, err)
		return false
	}
	if version == "" {
		printCheck(w, false, "database %s: schema version missing", path)
		return false
	}
	users, err := db.CountUsers(ctx)
	if err != nil {
		printCheck(w, false, "database %s: count users: %v", path, err)
		return false
	}
	active, err := db.CountActive(ctx)
	if err != nil {
		printCheck(w, false, "database %s: count subscriptions: %v", path, err)
		return false
	}
	printCheck(w, true, "database %s (schema v%s, %d users, %d active subscriptions)",
		path, version, users, active)
	return true
}

func checkSubredditHealth(ctx context.Context, w io.Writer, db *store.Store) {
	since := time.Now().AddDate(0, 0, -30)
	stats, err := db.GetSubredditStats(ctx, since)
	if err != nil || len(stats) == 0 {
		return
	}

	fmt.Fprintln(w)
	for _, st := range stats {
		if st.Total >= failingMinRuns && st.OK == 0 {
			printInfo(w, "always failing: r/%s — %d digests, last error: %s",
				st.Subreddit, st.Total, digest.Describe(source.Reason(st.LastReason)))
		}
		if st.LastReason == string(source.ReasonRateLimited) {
			printInfo(w, "rate limited: r/%s — consider lowering fetch.requests_per_second", st.Subreddit)
		}
	}
}

func printCheck(w io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
