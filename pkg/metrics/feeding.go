package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FeedingMetrics provides observability for the path-info feeding task.
type FeedingMetrics interface {
	// RecordRun records one execution of the feeding task.
	RecordRun(duration time.Duration, err error)

	// RecordDataSet records the outcome of a single dataset
	// ("indexed", "skipped_indexed", "skipped_missing", "failed").
	RecordDataSet(outcome string)

	// SetLastSeen updates the high-water mark gauge.
	SetLastSeen(ts time.Time)
}

type feedingMetrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	dataSetTotal *prometheus.CounterVec
	lastSeen     prometheus.Gauge
}

// NewFeedingMetrics creates a Prometheus-backed FeedingMetrics, or a no-op
// one when the registry is not initialized.
func NewFeedingMetrics() FeedingMetrics {
	if !IsEnabled() {
		return NewNoopFeedingMetrics()
	}

	reg := GetRegistry()

	return &feedingMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "afs_feeding_runs_total",
				Help: "Total number of feeding task runs by status",
			},
			[]string{"status"},
		),
		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "afs_feeding_run_duration_seconds",
				Help:    "Duration of feeding task runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
		),
		dataSetTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "afs_feeding_datasets_total",
				Help: "Total number of datasets processed by outcome",
			},
			[]string{"outcome"},
		),
		lastSeen: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "afs_feeding_last_seen_timestamp_seconds",
				Help: "Immutable-data timestamp of the newest processed entity",
			},
		),
	}
}

func (m *feedingMetrics) RecordRun(duration time.Duration, err error) {
	m.runsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *feedingMetrics) RecordDataSet(outcome string) {
	m.dataSetTotal.WithLabelValues(outcome).Inc()
}

func (m *feedingMetrics) SetLastSeen(ts time.Time) {
	m.lastSeen.Set(float64(ts.Unix()))
}

// NewNoopFeedingMetrics returns a FeedingMetrics that discards everything.
func NewNoopFeedingMetrics() FeedingMetrics {
	return noopFeedingMetrics{}
}

type noopFeedingMetrics struct{}

func (noopFeedingMetrics) RecordRun(duration time.Duration, err error) {}
func (noopFeedingMetrics) RecordDataSet(outcome string)                {}
func (noopFeedingMetrics) SetLastSeen(ts time.Time)                    {}
