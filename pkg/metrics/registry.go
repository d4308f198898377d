// Package metrics exposes Prometheus instrumentation for the AFS server.
//
// Every collector has a no-op twin. Constructors fall back to it when the
// registry was never initialized, and consumers treat a nil collector the
// same way, so components never branch on whether metrics are enabled.
//
//	metrics.InitRegistry()
//	apiMetrics := metrics.NewAPIMetrics()
//	locks := lock.NewManager(metrics.NewLockMetrics())
package metrics

import (
	"sync"

	"github.com/marmos91/afs/pkg/afs"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is written once by InitRegistry and read everywhere else
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry. Later calls are ignored.
// Collectors created before this call are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// statusLabel turns an error into a bounded label value.
func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code, ok := afs.CodeOf(err); ok {
		return code.String()
	}
	return "error"
}
