package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "log level",
			mutate: func(c *Config) { c.Logging.Level = "INVALID" },
			want:   "oneof",
		},
		{
			name:   "log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "oneof",
		},
		{
			name:   "shutdown timeout",
			mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 },
			want:   "ShutdownTimeout",
		},
		{
			name:   "layout",
			mutate: func(c *Config) { c.Storage.Layout = "nested" },
			want:   "Layout",
		},
		{
			name:   "entity type",
			mutate: func(c *Config) { c.Entity.Type = "ldap" },
			want:   "Entity.Type",
		},
		{
			name:   "path info type",
			mutate: func(c *Config) { c.PathInfo.Type = "sqlite" },
			want:   "PathInfo.Type",
		},
		{
			name:   "same roots",
			mutate: func(c *Config) { c.Storage.WALRoot = c.Storage.Root },
			want:   "must not contain each other",
		},
		{
			name:   "wal inside storage",
			mutate: func(c *Config) { c.Storage.Root = "/srv/afs"; c.Storage.WALRoot = "/srv/afs/.wal" },
			want:   "must not contain each other",
		},
		{
			name: "same keys",
			mutate: func(c *Config) {
				c.API.InteractiveSessionKey = "k"
				c.API.TransactionManagerKey = "k"
			},
			want: "must differ",
		},
		{
			name: "checksum type",
			mutate: func(c *Config) {
				c.Feeding.ComputeChecksum = true
				c.Feeding.ChecksumType = "CRC64"
			},
			want: "feeding",
		},
		{
			name:   "schedule",
			mutate: func(c *Config) { c.Feeding.Schedule = "every now and then" },
			want:   "invalid schedule",
		},
		{
			name:   "chunk size",
			mutate: func(c *Config) { c.Feeding.ChunkSize = -5 },
			want:   "ChunkSize",
		},
		{
			name:   "no adapter",
			mutate: func(c *Config) { c.Adapters.HTTP.Enabled = false },
			want:   "at least one adapter",
		},
		{
			name:   "http port",
			mutate: func(c *Config) { c.Adapters.HTTP.Port = 70000 },
			want:   "Port",
		},
		{
			name: "metrics port clash",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = c.Adapters.HTTP.Port
			},
			want: "already used",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_UnsetChecksumTypeIsIgnoredWithoutChecksums(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Feeding.ComputeChecksum = false
	cfg.Feeding.ChecksumType = "CRC64"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected checksum type to be ignored, got: %v", err)
	}
}

func TestValidate_DisjointRoots(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Root = "/srv/afs"
	cfg.Storage.WALRoot = "/srv/afs-wal"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected sibling roots to be valid, got: %v", err)
	}
}
