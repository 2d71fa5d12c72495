package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/subdigest/internal/privacy"
	"github.com/ppiankov/subdigest/internal/schedule"
	"github.com/ppiankov/subdigest/internal/store"
)

var sendEmail string

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send due digests now, or one subscriber's digest with --email",
	RunE:  sendAction,
}

func init() {
	sendCmd.Flags().StringVar(&sendEmail, "email", "", "send this subscriber's digest immediately, due or not")
	rootCmd.AddCommand(sendCmd)
}

func sendAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger := slog.Default()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()
	housekeep(ctx, db, cfg, logger)

	sched, err := newScheduler(cfg, db, buildFetcher(cfg, logger), logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	now := time.Now()

	if sendEmail != "" {
		sub, err := db.SubscriptionByEmail(ctx, sendEmail)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no subscription for %s", privacy.MaskEmail(sendEmail))
		}
		if err != nil {
			return err
		}
		d, err := sched.Deliver(ctx, sub, now)
		if err != nil && !errors.Is(err, schedule.ErrNotify) {
			return err
		}
		ok, failed, posts := d.Counts()
		fmt.Fprintf(out, "Digest for %s: %d subreddits ok, %d failed, %d posts.\n",
			privacy.MaskEmail(sub.Email), ok, failed, posts)
		return err
	}

	rep, err := sched.RunDue(ctx, now)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, formatReport(rep))
	if rep.NotifyFailed > 0 || rep.Errors > 0 {
		return fmt.Errorf("%d digests not delivered", rep.NotifyFailed+rep.Errors)
	}
	return nil
}

func formatReport(rep schedule.Report) string {
	if rep.Due == 0 {
		return "No digests due."
	}
	return fmt.Sprintf("%d due, %d sent, %d delivery failures, %d errors.",
		rep.Due, rep.Sent, rep.NotifyFailed, rep.Errors)
}
