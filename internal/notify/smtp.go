package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"github.com/ppiankov/subdigest/internal/config"
	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/privacy"
)

// sender is the part of *mail.Client used for delivery.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier sends each digest as a multipart text and HTML email.
// Sends are paced by a token bucket so a large batch of due digests does
// not trip provider limits.
type SMTPNotifier struct {
	from    string
	client  sender
	limiter *rate.Limiter
	logger  *slog.Logger
	text    *digest.TextFormatter
	html    *digest.HTMLFormatter
}

// NewSMTP creates an SMTP notifier from the notify config.
func NewSMTP(cfg config.NotifyConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.SMTP.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("from address is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.SMTP.Port),
		mail.WithTimeout(30 * time.Second),
	}
	switch cfg.SMTP.TLS {
	case "mandatory":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.SMTP.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.SMTP.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTP.Username),
			mail.WithPassword(cfg.SMTP.Password),
		)
	}

	client, err := mail.NewClient(cfg.SMTP.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return newSMTP(cfg.From, client, cfg.SMTP.SendInterval.Duration, logger), nil
}

func newSMTP(from string, client sender, interval time.Duration, logger *slog.Logger) *SMTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &SMTPNotifier{
		from:    from,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		text:    digest.NewText(),
		html:    digest.NewHTML(),
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, email string, d digest.Digest) error {
	err := n.send(ctx, email, d)
	observe("smtp", err)
	if err != nil {
		n.logger.WarnContext(ctx, "digest email failed",
			slog.String("recipient", privacy.MaskEmail(email)),
			slog.Any("error", err))
		return err
	}
	n.logger.InfoContext(ctx, "digest email sent",
		slog.String("recipient", privacy.MaskEmail(email)))
	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, email string, d digest.Digest) error {
	msg, err := n.message(email, d)
	if err != nil {
		return err
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// message composes the multipart email for one digest.
func (n *SMTPNotifier) message(email string, d digest.Digest) (*mail.Msg, error) {
	var text, html strings.Builder
	if err := n.text.Format(&text, d); err != nil {
		return nil, fmt.Errorf("render text digest: %w", err)
	}
	if err := n.html.Format(&html, d); err != nil {
		return nil, fmt.Errorf("render html digest: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(email); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	msg.Subject(d.Subject())
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, text.String())
	msg.AddAlternativeString(mail.TypeTextHTML, html.String())
	return msg, nil
}
