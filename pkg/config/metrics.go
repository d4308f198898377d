package config

import (
	"github.com/marmos91/afs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Collectors are never nil; they are no-ops when metrics are disabled
	API     metrics.APIMetrics
	Feeding metrics.FeedingMetrics
	Lock    metrics.LockMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled, the global Prometheus registry is initialized
// before any collector is created. Otherwise every collector is a no-op.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			API:     metrics.NewNoopAPIMetrics(),
			Feeding: metrics.NewNoopFeedingMetrics(),
			Lock:    metrics.NewNoopLockMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		API:     metrics.NewAPIMetrics(),
		Feeding: metrics.NewFeedingMetrics(),
		Lock:    metrics.NewLockMetrics(),
	}
}
