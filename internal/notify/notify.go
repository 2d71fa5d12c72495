// Package notify delivers rendered digests to subscribers.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/subdigest/internal/config"
	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/privacy"
)

// Notifier delivers one digest to one recipient.
type Notifier interface {
	Notify(ctx context.Context, email string, d digest.Digest) error
}

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subdigest_notifications_total",
		Help: "Digest deliveries by notifier and result",
	},
	[]string{"notifier", "result"},
)

func observe(notifier string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notificationsTotal.WithLabelValues(notifier, result).Inc()
}

// New builds the notifier selected by cfg.Mode.
func New(cfg config.NotifyConfig, logger *slog.Logger) (Notifier, error) {
	switch cfg.Mode {
	case "", "log":
		patterns, err := privacy.Compile(cfg.Redact)
		if err != nil {
			return nil, err
		}
		return NewLog(logger, patterns), nil
	case "smtp":
		return NewSMTP(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown notify mode %q", cfg.Mode)
	}
}
