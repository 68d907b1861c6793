// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Run         RunConfig         `yaml:"run"`
	Algorithm   AlgorithmConfig   `yaml:"algorithm"`
	Synth       SynthConfig       `yaml:"synth"`
	System      SystemConfig      `yaml:"system"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
}

// RunConfig contains the parameters of a single validation run
type RunConfig struct {
	BaseSecurityPath  string `yaml:"base_security_path"`  // Required: OHLC data for the baseline security
	PatternsPath      string `yaml:"patterns_path"`       // Required: parsed strategy universe
	OutputPath        string `yaml:"output_path"`         // Where the surviving-strategy report is written
	Alpha             string `yaml:"alpha"`               // Family-wise error rate threshold, e.g. "0.05"
	PartitionByFamily bool   `yaml:"partition_by_family"` // Partition by (category, direction) instead of direction alone
	Verbose           bool   `yaml:"verbose"`
}

// AlgorithmConfig selects and tunes the stepwise Monte-Carlo procedure
type AlgorithmConfig struct {
	Name             string `yaml:"name" validate:"required,oneof=fast slow"`
	NumPermutations  uint32 `yaml:"num_permutations" validate:"required,min=1"`
	MinTrades        int    `yaml:"min_trades" validate:"min=0"`
	Statistic        string `yaml:"statistic" validate:"oneof=log_profit_factor"`
	PValuePolicy     string `yaml:"p_value_policy" validate:"oneof=standard wilson"`
	WilsonConfidence float64 `yaml:"wilson_confidence" validate:"min=0,max=1"`
}

// SynthConfig selects the synthetic null model used to generate permuted draws
type SynthConfig struct {
	NullModel string `yaml:"null_model" validate:"oneof=n1_max_destruction"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	WorkerPoolSize int `yaml:"worker_pool_size" validate:"min=1,max=1024"`
	WorkerSlots    int `yaml:"worker_slots" validate:"min=1,max=1024"`
	IdleTimeoutSec int `yaml:"idle_timeout_seconds" validate:"min=0,max=3600"`
}

// DiagnosticsConfig controls the optional write-once sqlite snapshot store
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateRunConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateAlgorithmConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSynthConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateDiagnosticsConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateRunConfig() error {
	if c.Run.BaseSecurityPath == "" {
		return ValidationError{
			Field:   "run.base_security_path",
			Message: "base security path is required",
		}
	}
	if c.Run.PatternsPath == "" {
		return ValidationError{
			Field:   "run.patterns_path",
			Message: "patterns path is required",
		}
	}
	if c.Run.Alpha == "" {
		return ValidationError{
			Field:   "run.alpha",
			Message: "alpha is required",
		}
	}
	return nil
}

func (c *Config) validateAlgorithmConfig() error {
	validAlgorithms := []string{"fast", "slow"}
	if !contains(validAlgorithms, c.Algorithm.Name) {
		return ValidationError{
			Field:   "algorithm.name",
			Value:   c.Algorithm.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validAlgorithms, ", ")),
		}
	}

	if c.Algorithm.NumPermutations == 0 {
		return ValidationError{
			Field:   "algorithm.num_permutations",
			Value:   c.Algorithm.NumPermutations,
			Message: "must be at least 1",
		}
	}

	if c.Algorithm.MinTrades < 0 {
		return ValidationError{
			Field:   "algorithm.min_trades",
			Value:   c.Algorithm.MinTrades,
			Message: "must not be negative",
		}
	}

	validStatistics := []string{"log_profit_factor"}
	if c.Algorithm.Statistic != "" && !contains(validStatistics, c.Algorithm.Statistic) {
		return ValidationError{
			Field:   "algorithm.statistic",
			Value:   c.Algorithm.Statistic,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validStatistics, ", ")),
		}
	}

	validPolicies := []string{"standard", "wilson"}
	if c.Algorithm.PValuePolicy != "" && !contains(validPolicies, c.Algorithm.PValuePolicy) {
		return ValidationError{
			Field:   "algorithm.p_value_policy",
			Value:   c.Algorithm.PValuePolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validPolicies, ", ")),
		}
	}

	if c.Algorithm.PValuePolicy == "wilson" {
		if c.Algorithm.WilsonConfidence <= 0 || c.Algorithm.WilsonConfidence >= 1 {
			return ValidationError{
				Field:   "algorithm.wilson_confidence",
				Value:   c.Algorithm.WilsonConfidence,
				Message: "must be strictly between 0 and 1 when p_value_policy is wilson",
			}
		}
	}

	return nil
}

func (c *Config) validateSynthConfig() error {
	validModels := []string{"n1_max_destruction"}
	if c.Synth.NullModel != "" && !contains(validModels, c.Synth.NullModel) {
		return ValidationError{
			Field:   "synth.null_model",
			Value:   c.Synth.NullModel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.WorkerPoolSize < 0 {
		return ValidationError{
			Field:   "concurrency.worker_pool_size",
			Value:   c.Concurrency.WorkerPoolSize,
			Message: "must not be negative",
		}
	}
	if c.Concurrency.WorkerSlots < 0 {
		return ValidationError{
			Field:   "concurrency.worker_slots",
			Value:   c.Concurrency.WorkerSlots,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateDiagnosticsConfig() error {
	if c.Diagnostics.Enabled && c.Diagnostics.DBPath == "" {
		return ValidationError{
			Field:   "diagnostics.db_path",
			Message: "db_path is required when diagnostics are enabled",
		}
	}
	return nil
}

// String returns a string representation of the configuration. Unlike the
// exchange-credential configs this system's ancestor carried, nothing here
// is secret, so no masking is necessary.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			BaseSecurityPath: "testdata/base_security.json",
			PatternsPath:     "testdata/patterns.json",
			OutputPath:       "out/surviving_strategies.json",
			Alpha:            "0.05",
		},
		Algorithm: AlgorithmConfig{
			Name:            "fast",
			NumPermutations: 2000,
			MinTrades:       10,
			Statistic:       "log_profit_factor",
			PValuePolicy:    "standard",
		},
		Synth: SynthConfig{
			NullModel: "n1_max_destruction",
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
		Concurrency: ConcurrencyConfig{
			WorkerPoolSize: 8,
			WorkerSlots:    8,
			IdleTimeoutSec: 30,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: false,
		},
	}
}
