package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

var (
	statsSince  string
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-subreddit digest delivery history",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "30d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

const (
	staleDays      = 7
	failingMinRuns = 3 // runs needed before an always-failing subreddit is flagged
)

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	sinceTime := time.Now().Add(-sinceDur)

	stats, err := db.GetSubredditStats(cmd.Context(), sinceTime)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(stats) == 0 {
		if statsFormat == "json" {
			fmt.Fprintln(w, `{"subreddits":[],"totals":{"digests":0,"ok":0,"failed":0,"posts":0}}`)
			return nil
		}
		fmt.Fprintln(w, "No digests sent yet. Run 'subdigest send' or 'subdigest serve' first.")
		return nil
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(w, stats)
	case "terminal", "":
		printStats(w, stats, sinceDur, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Subreddits []jsonSubredditStats `json:"subreddits"`
	Totals     jsonTotals           `json:"totals"`
}

type jsonSubredditStats struct {
	Subreddit  string    `json:"subreddit"`
	Digests    int       `json:"digests"`
	OK         int       `json:"ok"`
	Failed     int       `json:"failed"`
	Posts      int       `json:"posts"`
	SuccessPct float64   `json:"success_pct"`
	LastSent   time.Time `json:"last_sent"`
	LastError  string    `json:"last_error,omitempty"`
}

type jsonTotals struct {
	Digests int `json:"digests"`
	OK      int `json:"ok"`
	Failed  int `json:"failed"`
	Posts   int `json:"posts"`
}

func printStatsJSON(w io.Writer, stats []store.SubredditStats) error {
	out := jsonStatsOutput{Subreddits: make([]jsonSubredditStats, 0, len(stats))}
	for _, st := range stats {
		out.Subreddits = append(out.Subreddits, jsonSubredditStats{
			Subreddit:  st.Subreddit,
			Digests:    st.Total,
			OK:         st.OK,
			Failed:     st.Failed,
			Posts:      st.Posts,
			SuccessPct: successPct(st),
			LastSent:   st.LastSent,
			LastError:  st.LastReason,
		})
		out.Totals.Digests += st.Total
		out.Totals.OK += st.OK
		out.Totals.Failed += st.Failed
		out.Totals.Posts += st.Posts
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, stats []store.SubredditStats, since time.Duration, now time.Time) {
	var totalRuns, totalOK, totalFailed, totalPosts int
	for _, st := range stats {
		totalRuns += st.Total
		totalOK += st.OK
		totalFailed += st.Failed
		totalPosts += st.Posts
	}

	fmt.Fprintf(w, "subdigest stats — %s, %d digest entries for %d subreddits\n\n",
		formatStatsDuration(since), totalRuns, len(stats))

	// Least reliable first.
	sorted := make([]store.SubredditStats, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return successPct(sorted[i]) < successPct(sorted[j])
	})

	fmt.Fprintln(w, "--- Delivery by Subreddit ---")
	fmt.Fprintln(w)

	maxName := 9 // "Subreddit"
	for _, st := range sorted {
		if n := len(st.Subreddit) + 2; n > maxName {
			maxName = n
		}
	}

	fmt.Fprintf(w, "  %-*s  %7s  %4s  %6s  %5s  %7s  %s\n", maxName, "Subreddit", "Digests", "OK", "Failed", "Posts", "Success", "Last error")
	for _, st := range sorted {
		lastErr := "-"
		if st.LastReason != "" {
			lastErr = digest.Describe(source.Reason(st.LastReason))
		}
		fmt.Fprintf(w, "  %-*s  %7d  %4d  %6d  %5d  %6.0f%%  %s\n",
			maxName, "r/"+st.Subreddit, st.Total, st.OK, st.Failed, st.Posts, successPct(st), lastErr)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Totals ---")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Delivered:  %5d  (%.1f%%)\n", totalOK, pct(totalOK, totalRuns))
	fmt.Fprintf(w, "  Failed:     %5d  (%.1f%%)\n", totalFailed, pct(totalFailed, totalRuns))
	fmt.Fprintf(w, "  Posts:      %5d\n", totalPosts)
	fmt.Fprintln(w)

	var failing []store.SubredditStats
	for _, st := range stats {
		if st.Total >= failingMinRuns && st.OK == 0 {
			failing = append(failing, st)
		}
	}
	if len(failing) > 0 {
		fmt.Fprintln(w, "--- Always Failing ---")
		fmt.Fprintln(w)
		for _, st := range failing {
			fmt.Fprintf(w, "  r/%s — %d digests, last error: %s\n",
				st.Subreddit, st.Total, digest.Describe(source.Reason(st.LastReason)))
		}
		fmt.Fprintln(w)
	}

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []store.SubredditStats
	for _, st := range stats {
		if st.LastSent.Before(staleThreshold) {
			stale = append(stale, st)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Stale Subreddits (not in a digest for %d+ days) ---\n\n", staleDays)
		for _, st := range stale {
			fmt.Fprintf(w, "  r/%s — last sent %s\n", st.Subreddit, humanize.RelTime(st.LastSent, now, "ago", "from now"))
		}
		fmt.Fprintln(w)
	}
}

func successPct(st store.SubredditStats) float64 {
	return pct(st.OK, st.Total)
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
