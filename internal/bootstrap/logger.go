package bootstrap

import (
	"market_validator/internal/core"
	"market_validator/pkg/logging"
)

// InitLogger builds the zap-backed, OTel-bridged ILogger the rest of the
// application depends on, and installs it as the package-level global used
// by pkg/logging's convenience functions.
func InitLogger(cfg *Config) core.ILogger {
	logger, _ := logging.NewZapLogger(cfg.System.LogLevel)
	logging.SetGlobalLogger(logger)
	return logger
}
