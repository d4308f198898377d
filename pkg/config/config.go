package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	httpadapter "github.com/marmos91/afs/pkg/adapter/http"
	"github.com/spf13/viper"
)

// Config represents the complete AFS configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (AFS_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Collaborators with several implementations (entity system, path index)
// follow the store pattern: a Type field selects the implementation and only
// the type-specific section with the same name is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Storage locates owner data and the write-ahead log
	Storage StorageConfig `mapstructure:"storage"`

	// API configures transaction modes, sessions and observers
	API APIConfig `mapstructure:"api"`

	// Entity selects the entity-system client
	Entity EntityConfig `mapstructure:"entity"`

	// PathInfo selects the path index backend
	PathInfo PathInfoConfig `mapstructure:"pathinfo"`

	// Feeding configures the path index feeding task and its schedule
	Feeding FeedingConfig `mapstructure:"feeding"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig locates owner data and transaction logs.
type StorageConfig struct {
	// Root is the directory owner paths are resolved against
	Root string `mapstructure:"root" validate:"required"`

	// WALRoot holds transaction logs and staged writes. It must live on the
	// same volume as Root.
	WALRoot string `mapstructure:"wal_root" validate:"required"`

	// Layout selects how owners map to directories
	// Valid values: sharded, flat
	Layout string `mapstructure:"layout" validate:"required,oneof=sharded flat"`

	// ShareID is the first path segment of every sharded owner path
	ShareID string `mapstructure:"share_id"`

	// StorageUUID is the second path segment of every sharded owner path.
	// Defaults to a name-based UUID derived from Root.
	StorageUUID string `mapstructure:"storage_uuid"`

	// CheckSameVolume refuses to start when Root and WALRoot are on
	// different volumes
	CheckSameVolume bool `mapstructure:"check_same_volume"`
}

// APIConfig configures request processing.
type APIConfig struct {
	// InteractiveSessionKey selects one-phase transactions
	InteractiveSessionKey string `mapstructure:"interactive_session_key"`

	// TransactionManagerKey selects two-phase transactions
	TransactionManagerKey string `mapstructure:"transaction_manager_key"`

	// SessionTimeout rolls back one-phase transactions idle for longer
	SessionTimeout time.Duration `mapstructure:"session_timeout" validate:"gt=0"`

	// MaxSessions bounds concurrent one-phase sessions
	MaxSessions int `mapstructure:"max_sessions" validate:"gt=0"`

	// MaxReadSize bounds the limit of a single read call, in bytes
	MaxReadSize int `mapstructure:"max_read_size" validate:"gt=0"`

	// RightsCacheSize and RightsCacheTTL bound the per-session rights cache
	RightsCacheSize int           `mapstructure:"rights_cache_size" validate:"gt=0"`
	RightsCacheTTL  time.Duration `mapstructure:"rights_cache_ttl" validate:"gt=0"`

	// RegisterDataSets creates an entity-system data set for every owner
	// that receives its first file
	RegisterDataSets bool `mapstructure:"register_data_sets"`

	// PathIndexListing serves list calls from the path index when possible
	PathIndexListing bool `mapstructure:"path_index_listing"`
}

// EntityConfig selects the entity-system client.
type EntityConfig struct {
	// Type specifies which client to use
	// Valid values: memory, http
	Type string `mapstructure:"type" validate:"required,oneof=memory http"`

	// Memory contains in-memory client configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// HTTP contains JSON-RPC client configuration
	// Only used when Type = "http"
	HTTP map[string]any `mapstructure:"http"`
}

// PathInfoConfig selects the path index backend.
type PathInfoConfig struct {
	// Type specifies which backend to use
	// Valid values: memory, badger, postgres
	Type string `mapstructure:"type" validate:"required,oneof=memory badger postgres"`

	// Badger contains BadgerDB configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Postgres contains PostgreSQL configuration
	// Only used when Type = "postgres"
	Postgres map[string]any `mapstructure:"postgres"`
}

// FeedingConfig configures the path index feeding task.
type FeedingConfig struct {
	// Enabled runs passes on Schedule
	Enabled bool `mapstructure:"enabled"`

	// Schedule is a cron expression or descriptor
	Schedule string `mapstructure:"schedule" validate:"required"`

	// RunOnStart triggers a pass as soon as the server starts
	RunOnStart bool `mapstructure:"run_on_start"`

	// PassTimeout bounds a single pass (0: unbounded)
	PassTimeout time.Duration `mapstructure:"pass_timeout" validate:"min=0"`

	// ChunkSize is how many entities are fetched per chunk
	ChunkSize int `mapstructure:"chunk_size" validate:"gt=0"`

	// MaxNumberOfChunks stops a pass after that many chunks (-1: unlimited)
	MaxNumberOfChunks int `mapstructure:"max_number_of_chunks"`

	// TimeLimit stops a pass once it has run that long (0: none)
	TimeLimit time.Duration `mapstructure:"time_limit" validate:"min=0"`

	// ComputeChecksum adds a ChecksumType digest to every indexed file
	ComputeChecksum bool   `mapstructure:"compute_checksum"`
	ChecksumType    string `mapstructure:"checksum_type"`

	// DataStoreKind keys the feeding high-water mark
	DataStoreKind string `mapstructure:"data_store_kind" validate:"required"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=0,max=65535"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// HTTP uses the adapter's own config type directly
	HTTP httpadapter.HTTPConfig `mapstructure:"http"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables, switch defaults and the
// config file location.
func setupViper(v *viper.Viper, configPath string) {
	// Example: AFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("AFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees environment variables for keys viper knows about
	for _, key := range settingKeys(GetDefaultConfig()) {
		_ = v.BindEnv(key)
	}

	// Switches that default to on cannot be told apart from an explicit
	// false after unmarshalling, so they are defaulted here instead.
	v.SetDefault("api.register_data_sets", true)
	v.SetDefault("api.path_index_listing", true)
	v.SetDefault("feeding.enabled", true)
	v.SetDefault("adapters.http.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/afs/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is treated the same way
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "afs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "afs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
