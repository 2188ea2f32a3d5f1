package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls logger construction.
type LoggerConfig struct {
	// Debug enables development-mode output and debug-level logging.
	Debug bool
}

// NewLogger creates a zap logger configured for the service.
// Production config with ISO8601 timestamps; debug mode switches to the
// development config with debug level enabled.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &LoggerConfig{}
	}

	var zapCfg zap.Config
	if cfg.Debug {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return zapCfg.Build()
}

// NewNopLogger returns a logger that discards everything. Useful in tests
// that don't assert on log output.
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}
