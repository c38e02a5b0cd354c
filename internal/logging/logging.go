package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a configured zap logger. format "json" selects the production
// encoder, anything else the development console encoder.
func New(level string, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var loggerConfig zap.Config
	if format == "json" {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	loggerConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	loggerConfig.DisableStacktrace = zapLevel > zapcore.DebugLevel

	return loggerConfig.Build()
}
