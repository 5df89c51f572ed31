// Package logging builds the shared zap logger. Serve mode logs structured
// JSON; debug level switches to the development config so webhook payload
// traces stay readable while iterating locally.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a config string onto a zap level. Unknown values fall back
// to info rather than failing startup.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger returns a zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	parsed := ParseLevel(level)

	cfg := zap.NewProductionConfig()
	if parsed == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.InitialFields = map[string]any{"service": "meritgate"}

	return cfg.Build()
}
