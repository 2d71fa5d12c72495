package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subdigest_schedule_runs_total",
			Help: "Due checks by result",
		},
		[]string{"result"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subdigest_schedule_run_duration_seconds",
			Help:    "Duration of one due check",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	lastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subdigest_schedule_last_run_timestamp_seconds",
			Help: "Unix time of the last completed due check",
		},
	)

	digestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subdigest_digests_total",
			Help: "Processed subscriber digests by result",
		},
		[]string{"result"},
	)
)

func observeRun(result string, elapsed time.Duration) {
	runsTotal.WithLabelValues(result).Inc()
	runDuration.Observe(elapsed.Seconds())
	if result == "ok" {
		lastRunTimestamp.SetToCurrentTime()
	}
}

func observeDigest(result string) {
	digestsTotal.WithLabelValues(result).Inc()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(fmt.Sprintf("cron: %s", msg), append(keysAndValues, "error", err)...)
}
