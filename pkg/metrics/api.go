package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIMetrics provides observability for file store API calls.
//
// A nil APIMetrics is valid wherever one is accepted and behaves like the
// no-op implementation.
type APIMetrics interface {
	// RecordCall records a completed call.
	//
	// Parameters:
	//   - method: API method name (e.g., "list", "write", "commit")
	//   - mode: transaction mode the call ran in
	//   - duration: time spent processing the call
	//   - err: the call's error, nil on success
	RecordCall(method, mode string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by read and write calls.
	RecordBytes(direction string, bytes int64)

	// SetActiveTransactions updates the number of open transactions per mode.
	SetActiveTransactions(mode string, count int)
}

type apiMetrics struct {
	callsTotal         *prometheus.CounterVec
	callDuration       *prometheus.HistogramVec
	bytesTransferred   *prometheus.CounterVec
	activeTransactions *prometheus.GaugeVec
}

// NewAPIMetrics creates a Prometheus-backed APIMetrics, or a no-op one when
// the registry is not initialized.
func NewAPIMetrics() APIMetrics {
	if !IsEnabled() {
		return NewNoopAPIMetrics()
	}

	reg := GetRegistry()

	return &apiMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "afs_api_calls_total",
				Help: "Total number of API calls by method, mode and status",
			},
			[]string{"method", "mode", "status"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "afs_api_call_duration_seconds",
				Help:    "Duration of API calls in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "afs_api_bytes_transferred_total",
				Help: "Total bytes moved by read and write calls",
			},
			[]string{"direction"},
		),
		activeTransactions: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "afs_api_active_transactions",
				Help: "Current number of open transactions",
			},
			[]string{"mode"},
		),
	}
}

func (m *apiMetrics) RecordCall(method, mode string, duration time.Duration, err error) {
	m.callsTotal.WithLabelValues(method, mode, statusLabel(err)).Inc()
	m.callDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *apiMetrics) RecordBytes(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *apiMetrics) SetActiveTransactions(mode string, count int) {
	m.activeTransactions.WithLabelValues(mode).Set(float64(count))
}

// NewNoopAPIMetrics returns an APIMetrics that discards everything.
func NewNoopAPIMetrics() APIMetrics {
	return noopAPIMetrics{}
}

type noopAPIMetrics struct{}

func (noopAPIMetrics) RecordCall(method, mode string, duration time.Duration, err error) {}
func (noopAPIMetrics) RecordBytes(direction string, bytes int64)                       {}
func (noopAPIMetrics) SetActiveTransactions(mode string, count int)                    {}
