package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/privacy"
)

// LogNotifier writes the text rendering of each digest to the logger
// instead of sending mail.
type LogNotifier struct {
	logger   *slog.Logger
	patterns []*regexp.Regexp
	text     *digest.TextFormatter
}

// NewLog creates a log notifier. patterns are redacted from the body in
// addition to email addresses.
func NewLog(logger *slog.Logger, patterns []*regexp.Regexp) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, patterns: patterns, text: digest.NewText()}
}

func (n *LogNotifier) Notify(ctx context.Context, email string, d digest.Digest) error {
	var body strings.Builder
	err := n.text.Format(&body, d)
	if err == nil {
		ok, failed, posts := d.Counts()
		n.logger.InfoContext(ctx, "digest delivered to log",
			slog.String("recipient", privacy.MaskEmail(email)),
			slog.String("subject", d.Subject()),
			slog.Int("subreddits_ok", ok),
			slog.Int("subreddits_failed", failed),
			slog.Int("posts", posts),
			slog.String("body", privacy.Apply(body.String(), n.patterns)),
		)
	} else {
		err = fmt.Errorf("render text digest: %w", err)
	}
	observe("log", err)
	return err
}
