package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

storage:
  root: "/srv/afs/storage"
  wal_root: "/srv/afs/wal"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.Layout != "sharded" {
		t.Errorf("Expected default layout 'sharded', got %q", cfg.Storage.Layout)
	}
	if cfg.Adapters.HTTP.Port != 8080 {
		t.Errorf("Expected default HTTP port 8080, got %d", cfg.Adapters.HTTP.Port)
	}
	if !cfg.Adapters.HTTP.Enabled {
		t.Error("Expected HTTP adapter enabled by default")
	}
	if !cfg.Feeding.Enabled || !cfg.API.RegisterDataSets || !cfg.API.PathIndexListing {
		t.Error("Expected feeding and observers enabled by default")
	}
}

func TestLoad_ExplicitFalseIsKept(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
api:
  register_data_sets: false
feeding:
  enabled: false
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.API.RegisterDataSets {
		t.Error("Expected register_data_sets to stay disabled")
	}
	if cfg.Feeding.Enabled {
		t.Error("Expected feeding to stay disabled")
	}
	if !cfg.API.PathIndexListing {
		t.Error("Expected path_index_listing to keep its default")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// An explicit path avoids picking up the user's ~/.config/afs
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.PathInfo.Type != "memory" {
		t.Errorf("Expected default path info type 'memory', got %q", cfg.PathInfo.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
storage:
  layout: "nested"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown layout")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[pathinfo]
type = "badger"

[pathinfo.badger]
path = "/var/lib/afs/pathinfo"

[adapters.http]
port = 8081
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.PathInfo.Badger["path"] != "/var/lib/afs/pathinfo" {
		t.Errorf("Expected badger path from file, got %v", cfg.PathInfo.Badger["path"])
	}
	if cfg.Adapters.HTTP.Port != 8081 {
		t.Errorf("Expected port 8081, got %d", cfg.Adapters.HTTP.Port)
	}
}

func TestLoad_Durations(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
api:
  session_timeout: "15m"
feeding:
  time_limit: "2h"
adapters:
  http:
    shutdown_timeout: "5s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.API.SessionTimeout != 15*time.Minute {
		t.Errorf("Expected session timeout 15m, got %v", cfg.API.SessionTimeout)
	}
	if cfg.Feeding.TimeLimit != 2*time.Hour {
		t.Errorf("Expected time limit 2h, got %v", cfg.Feeding.TimeLimit)
	}
	if cfg.Adapters.HTTP.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected HTTP shutdown timeout 5s, got %v", cfg.Adapters.HTTP.ShutdownTimeout)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("AFS_LOGGING_LEVEL", "ERROR")
	t.Setenv("AFS_ADAPTERS_HTTP_PORT", "5080")
	t.Setenv("AFS_API_INTERACTIVE_SESSION_KEY", "from-env")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

adapters:
  http:
    enabled: true
    port: 8080
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.HTTP.Port != 5080 {
		t.Errorf("Expected port 5080 from env var, got %d", cfg.Adapters.HTTP.Port)
	}
	if cfg.API.InteractiveSessionKey != "from-env" {
		t.Errorf("Expected interactive session key from env var, got %q", cfg.API.InteractiveSessionKey)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if dir := GetConfigDir(); dir != "/xdg/afs" {
		t.Errorf("Expected '/xdg/afs', got %q", dir)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty directory")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}
