package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/subdigest/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web app and the daily digest scheduler",
	RunE:  serveAction,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	logger := newLogger(cmd.ErrOrStderr(), "json")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	housekeep(ctx, db, cfg, logger)

	fetcher := buildFetcher(cfg, logger)
	sched, err := newScheduler(cfg, db, fetcher, logger)
	if err != nil {
		return err
	}

	srv, err := web.New(web.Options{
		Store:    db,
		Fetcher:  fetcher,
		Composer: sched,
		Session:  cfg.Session,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build web server: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	logger.Info("subdigest started",
		slog.String("version", Version),
		slog.String("listen", cfg.Server.Listen),
		slog.String("notify", cfg.Notify.Mode),
		slog.String("db", cfg.Storage.Path))

	return srv.ListenAndServe(ctx, cfg.Server)
}
