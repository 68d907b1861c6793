package bootstrap

import (
	"fmt"
	"os"

	"market_validator/internal/config"
	"market_validator/pkg/cli"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader and runs validator-
// specific pre-flight checks that schema validation alone cannot express.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation: the
// input files a run actually needs must exist before any permutation work
// starts, so a missing path fails fast instead of partway through the
// baseline pass.
func checkPreFlight(cfg *Config) error {
	for _, path := range []string{cfg.Run.BaseSecurityPath, cfg.Run.PatternsPath, cfg.Run.OutputPath, cfg.Diagnostics.DBPath} {
		if path == "" {
			continue
		}
		if err := cli.ValidateInput(path); err != nil {
			return fmt.Errorf("path %q: %w", path, err)
		}
	}

	if _, err := os.Stat(cfg.Run.BaseSecurityPath); err != nil {
		return fmt.Errorf("base_security_path %q: %w", cfg.Run.BaseSecurityPath, err)
	}
	if _, err := os.Stat(cfg.Run.PatternsPath); err != nil {
		return fmt.Errorf("patterns_path %q: %w", cfg.Run.PatternsPath, err)
	}
	return nil
}
