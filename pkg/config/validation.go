package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/afs/pkg/pathinfo"
	"github.com/robfig/cron"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	root := filepath.Clean(cfg.Storage.Root)
	wal := filepath.Clean(cfg.Storage.WALRoot)
	if root == wal || isWithin(wal, root) || isWithin(root, wal) {
		return fmt.Errorf("storage: root %q and wal_root %q must not contain each other", root, wal)
	}

	isk := cfg.API.InteractiveSessionKey
	if isk != "" && isk == cfg.API.TransactionManagerKey {
		return fmt.Errorf("api: interactive_session_key and transaction_manager_key must differ")
	}

	if cfg.Feeding.ComputeChecksum {
		if err := pathinfo.ValidateChecksumType(cfg.Feeding.ChecksumType); err != nil {
			return fmt.Errorf("feeding: %w", err)
		}
	}
	if _, err := cron.ParseStandard(cfg.Feeding.Schedule); err != nil {
		return fmt.Errorf("feeding: invalid schedule %q: %w", cfg.Feeding.Schedule, err)
	}

	if !cfg.Adapters.HTTP.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Adapters.HTTP.Port {
		return fmt.Errorf("metrics: port %d already used by the http adapter", cfg.Metrics.Port)
	}

	return nil
}

func isWithin(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
