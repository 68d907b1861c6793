package bootstrap

import (
	"context"
	"fmt"
	"time"

	"market_validator/internal/core"
	"market_validator/pkg/telemetry"
)

// App represents the application context and holds core dependencies shared
// by the validator's composition root: configuration, logger, and an
// optional telemetry handle. Unlike the long-running server this package's
// shape was inherited from, a validation run is a single batch computation,
// so there is no signal-driven shutdown loop here; Run executes one
// Runner to completion and returns.
type App struct {
	Cfg       *Config
	Logger    core.ILogger
	Telemetry *telemetry.Telemetry
}

// NewApp bootstraps configuration and logging. Telemetry is initialized
// separately via NewApp's caller when cfg.Telemetry.EnableMetrics or
// cfg.Telemetry.EnableTracing is set,
// since telemetry setup needs a service name that only the caller knows.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := InitLogger(cfg)

	return &App{
		Cfg:    cfg,
		Logger: logger,
	}, nil
}

// EnableTelemetry wires up the OTel tracer/meter/logger providers for
// serviceName and attaches the resulting handle to the App so Shutdown can
// flush it.
func (a *App) EnableTelemetry(serviceName string) error {
	tel, err := telemetry.Setup(serviceName)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.Telemetry = tel
	return nil
}

// Runner is a single unit of batch work the composition root executes to
// completion, such as one MonteCarloValidator.Run invocation.
type Runner interface {
	Run(ctx context.Context) error
}

// Run executes runner once. Any error is logged and returned verbatim; the
// caller decides whether that is fatal.
func (a *App) Run(ctx context.Context, runner Runner) error {
	a.Logger.Info("starting validation run")

	if err := runner.Run(ctx); err != nil {
		a.Logger.Error("validation run failed", "error", err)
		return err
	}

	a.Logger.Info("validation run complete")
	return nil
}

// Shutdown flushes telemetry within timeout. The logger is not flushed here.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			a.Logger.Error("telemetry shutdown failed", "error", err)
		}
	}
}
