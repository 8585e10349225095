package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// tokensTotal tracks raw tokens by source and what became of them
	tokensTotal *prometheus.CounterVec

	// runsTotal tracks per-source run outcomes
	runsTotal *prometheus.CounterVec

	// sourceDuration tracks fetch plus merge latency per source
	sourceDuration *prometheus.HistogramVec

	// lastRunTimestamp is the unix time of the last finished run
	lastRunTimestamp prometheus.Gauge

	// feedErrorsTotal tracks feed transport errors by type
	feedErrorsTotal *prometheus.CounterVec
)

// Init registers all collector metrics on reg, or on the default registerer
// when reg is nil. Only the first call registers.
func Init(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		factory := promauto.With(reg)

		tokensTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cticollector_tokens_total",
				Help: "Raw tokens seen per source by outcome",
			},
			[]string{"source", "outcome"},
		)

		runsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cticollector_runs_total",
				Help: "Per-source collection runs by final status",
			},
			[]string{"source", "status"},
		)

		sourceDuration = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cticollector_source_duration_seconds",
				Help:    "Time spent fetching and merging one source",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"source"},
		)

		lastRunTimestamp = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cticollector_last_run_timestamp_seconds",
				Help: "Unix time of the last completed collection run",
			},
		)

		feedErrorsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cticollector_feed_errors_total",
				Help: "Feed HTTP errors by feed and error type",
			},
			[]string{"feed", "error_type"},
		)
	})
}

// RecordTokens adds n tokens for source with the given outcome
// outcome: "new", "updated", "unchanged", "skipped", "duplicate", "failed"
func RecordTokens(source, outcome string, n int) {
	if tokensTotal != nil && n > 0 {
		tokensTotal.WithLabelValues(source, outcome).Add(float64(n))
	}
}

// RecordRun records the final status of one source in one run
func RecordRun(source, status string, duration time.Duration) {
	if runsTotal != nil {
		runsTotal.WithLabelValues(source, status).Inc()
	}
	if sourceDuration != nil {
		sourceDuration.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// MarkRunFinished stamps the last run gauge
func MarkRunFinished(t time.Time) {
	if lastRunTimestamp != nil {
		lastRunTimestamp.Set(float64(t.Unix()))
	}
}

// RecordFeedError records a feed transport error
// errorType: "connection", "auth", "rate_limit", "timeout", "server_error", "http_error", "circuit_open"
func RecordFeedError(feed, errorType string) {
	if feedErrorsTotal != nil {
		feedErrorsTotal.WithLabelValues(feed, errorType).Inc()
	}
}
