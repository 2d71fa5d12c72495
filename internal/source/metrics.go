package source

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subdigest_fetch_attempts_total",
			Help: "Strategy attempts by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	fetchAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subdigest_fetch_attempt_duration_seconds",
			Help:    "Duration of a single strategy attempt",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"strategy"},
	)

	fetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subdigest_fetch_outcomes_total",
			Help: "Fetch results after all strategies, by result",
		},
		[]string{"result"},
	)
)

func resultLabel(out Outcome) string {
	if out.OK {
		return "ok"
	}
	return string(out.Reason)
}

func observeAttempt(strategy string, out Outcome, elapsed time.Duration) {
	fetchAttemptsTotal.WithLabelValues(strategy, resultLabel(out)).Inc()
	fetchAttemptDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func observeOutcome(out Outcome) {
	fetchOutcomesTotal.WithLabelValues(resultLabel(out)).Inc()
}
