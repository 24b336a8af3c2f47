package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadEngineConfig reads and validates the engine-wide TOML file at path.
// A missing file is not an error: defaults are returned instead, supporting
// a zero-config first run.
func LoadEngineConfig(path string, logger *slog.Logger) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("engine config not found, using defaults", "path", path)
		return &cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading engine config %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing engine config %s: %w", path, err)
	}

	if err := ValidateEngine(&cfg); err != nil {
		return nil, fmt.Errorf("engine config validation failed: %w", err)
	}

	logger.Debug("engine config loaded", "path", path)

	return &cfg, nil
}

// LoadAccountConfig reads and validates a single account's TOML file,
// starting from AccountConfig defaults (spec §3 Account bounds).
func LoadAccountConfig(path string, logger *slog.Logger) (*AccountConfig, error) {
	cfg := DefaultAccountConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading account config %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing account config %s: %w", path, err)
	}

	if err := ValidateAccount(&cfg); err != nil {
		return nil, fmt.Errorf("account config validation failed: %w", err)
	}

	logger.Debug("account config loaded", "path", path, "sync_root", cfg.LocalSyncRoot)

	return &cfg, nil
}
