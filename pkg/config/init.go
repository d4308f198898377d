package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// sections lists the top-level sections in file order with their comments.
var sections = []struct {
	key     string
	comment string
}{
	{"logging", "Logging: level DEBUG|INFO|WARN|ERROR, format text|json, output stdout|stderr|<file>"},
	{"server", "Server-wide settings"},
	{"storage", "Owner data and write-ahead log locations.\nroot and wal_root must be on the same volume.\nlayout: sharded (/<share_id>/<storage_uuid>/<s1>/<s2>/<s3>/<owner>) or flat (/<owner>)"},
	{"api", "Transaction modes: requests carrying interactive_session_key run one-phase\ntransactions, requests carrying transaction_manager_key run two-phase ones.\nLeave a key empty to disable that mode."},
	{"entity", "Entity system client: memory (development) or http (JSON-RPC).\nThe memory client with allow_all accepts every session token."},
	{"pathinfo", "Path index backend: memory, badger or postgres"},
	{"feeding", "Path index feeding task.\nschedule is a cron expression or descriptor such as @every 10m.\nmax_number_of_chunks -1 means unlimited; time_limit 0 means none."},
	{"metrics", "Prometheus endpoint (GET /metrics)"},
	{"adapters", "Protocol adapters"},
}

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as commented YAML in section order.
func generateYAMLWithComments(cfg *Config) (string, error) {
	settings, err := toSettings(cfg)
	if err != nil {
		return "", err
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range sections {
		value, ok := settings[s.key]
		if !ok {
			continue
		}
		var valueNode yaml.Node
		if err := valueNode.Encode(value); err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", s.key, err)
		}
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.key, HeadComment: s.comment}
		root.Content = append(root.Content, keyNode, &valueNode)
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "AFS Configuration File\n\nEvery setting can be overridden with an AFS_ environment variable,\nfor example AFS_LOGGING_LEVEL=DEBUG or AFS_ADAPTERS_HTTP_PORT=8081.",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toSettings converts cfg to nested maps keyed by the mapstructure names.
func toSettings(cfg *Config) (map[string]any, error) {
	settings := make(map[string]any)
	if err := mapstructure.Decode(cfg, &settings); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}
	return normalize(settings).(map[string]any), nil
}

// normalize renders durations the way they are written by hand.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case time.Duration:
		return t.String()
	default:
		return v
	}
}

// settingKeys returns the dotted key of every leaf setting.
func settingKeys(cfg *Config) []string {
	settings, err := toSettings(cfg)
	if err != nil {
		return nil
	}
	var keys []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			keys = append(keys, key)
		}
	}
	walk("", settings)
	sort.Strings(keys)
	return keys
}
