package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LockMetrics provides observability for the path lock manager.
type LockMetrics interface {
	// RecordAcquired records a granted lock request and how long it waited.
	RecordAcquired(blocking bool, wait time.Duration)

	// RecordConflict records a non-blocking request refused because of a conflict.
	RecordConflict()

	// SetHeld updates the number of lock entries currently held.
	SetHeld(count int)
}

type lockMetrics struct {
	acquiredTotal *prometheus.CounterVec
	waitDuration  prometheus.Histogram
	conflicts     prometheus.Counter
	held          prometheus.Gauge
}

// NewLockMetrics creates a Prometheus-backed LockMetrics, or a no-op one
// when the registry is not initialized.
func NewLockMetrics() LockMetrics {
	if !IsEnabled() {
		return NewNoopLockMetrics()
	}

	reg := GetRegistry()

	return &lockMetrics{
		acquiredTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "afs_lock_acquired_total",
				Help: "Total number of granted lock requests",
			},
			[]string{"mode"},
		),
		waitDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "afs_lock_wait_duration_seconds",
				Help:    "Time blocking lock requests spent waiting",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		conflicts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "afs_lock_conflicts_total",
				Help: "Total number of lock requests refused because of a conflict",
			},
		),
		held: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "afs_lock_held",
				Help: "Current number of held lock entries",
			},
		),
	}
}

func (m *lockMetrics) RecordAcquired(blocking bool, wait time.Duration) {
	mode := "try"
	if blocking {
		mode = "blocking"
		m.waitDuration.Observe(wait.Seconds())
	}
	m.acquiredTotal.WithLabelValues(mode).Inc()
}

func (m *lockMetrics) RecordConflict() {
	m.conflicts.Inc()
}

func (m *lockMetrics) SetHeld(count int) {
	m.held.Set(float64(count))
}

// NewNoopLockMetrics returns a LockMetrics that discards everything.
func NewNoopLockMetrics() LockMetrics {
	return noopLockMetrics{}
}

type noopLockMetrics struct{}

func (noopLockMetrics) RecordAcquired(blocking bool, wait time.Duration) {}
func (noopLockMetrics) RecordConflict()                                  {}
func (noopLockMetrics) SetHeld(count int)                                {}
