package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	httpadapter "github.com/marmos91/afs/pkg/adapter/http"
	"github.com/marmos91/afs/pkg/api"
	"github.com/marmos91/afs/pkg/feeding"
	"github.com/marmos91/afs/pkg/metrics"
	"github.com/marmos91/afs/pkg/worker"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Switches that default to on are handled by Load through viper
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyAPIDefaults(&cfg.API)
	applyEntityDefaults(&cfg.Entity)
	applyPathInfoDefaults(&cfg.PathInfo)
	applyFeedingDefaults(&cfg.Feeding)
	applyMetricsDefaults(&cfg.Metrics)
	applyHTTPDefaults(&cfg.Adapters.HTTP)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = "/tmp/afs/storage"
	}
	if cfg.WALRoot == "" {
		cfg.WALRoot = "/tmp/afs/wal"
	}
	if cfg.Layout == "" {
		cfg.Layout = "sharded"
	}
	if cfg.ShareID == "" {
		cfg.ShareID = "1"
	}
	if cfg.StorageUUID == "" {
		cfg.StorageUUID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.Clean(cfg.Root))).String()
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = api.DefaultSessionTimeout
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = api.DefaultMaxSessions
	}
	if cfg.MaxReadSize == 0 {
		cfg.MaxReadSize = api.DefaultMaxReadSize
	}
	if cfg.RightsCacheSize == 0 {
		cfg.RightsCacheSize = worker.DefaultRightsCacheSize
	}
	if cfg.RightsCacheTTL == 0 {
		cfg.RightsCacheTTL = worker.DefaultRightsCacheTTL
	}
}

// applyEntityDefaults defaults to an in-memory entity system that accepts
// every session, which is only suitable for development.
func applyEntityDefaults(cfg *EntityConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.HTTP == nil {
		cfg.HTTP = make(map[string]any)
	}
	if _, ok := cfg.Memory["allow_all"]; !ok {
		cfg.Memory["allow_all"] = true
	}
	if _, ok := cfg.HTTP["timeout"]; !ok {
		cfg.HTTP["timeout"] = "30s"
	}
	if _, ok := cfg.HTTP["max_retries"]; !ok {
		cfg.HTTP["max_retries"] = 3
	}
}

func applyPathInfoDefaults(cfg *PathInfoConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Postgres == nil {
		cfg.Postgres = make(map[string]any)
	}

	// Apply defaults for all backends (for config file generation)
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/tmp/afs/pathinfo"
	}
	if _, ok := cfg.Postgres["driver"]; !ok {
		cfg.Postgres["driver"] = "pgx"
	}
	if _, ok := cfg.Postgres["migrate"]; !ok {
		cfg.Postgres["migrate"] = true
	}
}

func applyFeedingDefaults(cfg *FeedingConfig) {
	if cfg.Schedule == "" {
		cfg.Schedule = feeding.DefaultSchedule
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = feeding.DefaultChunkSize
	}
	if cfg.MaxNumberOfChunks == 0 {
		cfg.MaxNumberOfChunks = -1
	}
	if cfg.ChecksumType == "" {
		cfg.ChecksumType = "SHA-256"
	}
	if cfg.DataStoreKind == "" {
		cfg.DataStoreKind = feeding.DefaultDataStoreKind
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = metrics.DefaultPort
	}
}

func applyHTTPDefaults(cfg *httpadapter.HTTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxRequestBytes == 0 {
		cfg.MaxRequestBytes = httpadapter.DefaultMaxRequestBytes
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		API: APIConfig{
			RegisterDataSets: true,
			PathIndexListing: true,
		},
		Feeding: FeedingConfig{
			Enabled: true,
		},
		Adapters: AdaptersConfig{
			HTTP: httpadapter.HTTPConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
