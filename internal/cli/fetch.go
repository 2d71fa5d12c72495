package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/source"
)

var (
	fetchSort   string
	fetchWindow string
	fetchLimit  int
	fetchFormat string
	noColor     bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <subreddit>",
	Short: "Fetch one subreddit listing and print it",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchAction,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchSort, "sort", "hot", "listing: hot, new, top")
	fetchCmd.Flags().StringVar(&fetchWindow, "time", "day", "time window for top: day, week, month, year, all")
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", source.MaxLimit, "posts to return (at most 5)")
	fetchCmd.Flags().StringVar(&fetchFormat, "format", "terminal", "output format: terminal, json, markdown, text, html")
	fetchCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(fetchCmd)
}

func fetchAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	q := source.Query{
		Name:       args[0],
		Sort:       source.Sort(fetchSort),
		TimeWindow: source.TimeWindow(fetchWindow),
		Limit:      fetchLimit,
	}
	out := buildFetcher(cfg, nil).Fetch(cmd.Context(), q)
	if err := printFetch(cmd.OutOrStdout(), q, out, fetchFormat, colorEnabled(noColor)); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("r/%s: %s", args[0], digest.Describe(out.Reason))
	}
	return nil
}

func printFetch(w io.Writer, q source.Query, out source.Outcome, format string, color bool) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	f := digest.New(format, color)
	if f == nil {
		return fmt.Errorf("unknown format %q (want terminal, json, markdown, text or html)", format)
	}
	name := q.Name
	if nq, ok := q.Normalize(); ok {
		name = nq.Name
	}
	d := digest.Build("", time.Now(), []digest.Result{{Subreddit: name, Outcome: out}})
	return f.Format(w, d)
}
