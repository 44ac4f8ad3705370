// Package logging threads a zap sugared logger through context, with a
// process-wide fallback for call sites that never received one.
package logging

import (
	"context"

	"go.uber.org/zap"
)

// LoggerKey is the context key the logger travels under.
type LoggerKey struct{}

var fallbackLogger *zap.SugaredLogger

func init() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.LevelKey = "severity"
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)

	if logger, err := config.Build(); err != nil {
		fallbackLogger = zap.NewNop().Sugar()
	} else {
		fallbackLogger = logger.Named("default").Sugar()
	}
}

// NewLogger builds a logger. debug switches to the development encoder and
// debug level.
func NewLogger(debug bool) *zap.SugaredLogger {
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config.EncoderConfig.MessageKey = "message"
		config.EncoderConfig.LevelKey = "severity"
	}
	logger, err := config.Build()
	if err != nil {
		return fallbackLogger
	}
	return logger.Sugar()
}

// DefaultLogger returns the process-wide fallback logger.
func DefaultLogger() *zap.SugaredLogger {
	return fallbackLogger
}

// WithLogger returns a context carrying the logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

// FromContext extracts the logger from the context, falling back to the
// process-wide logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return fallbackLogger
}
