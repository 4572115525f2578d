// Package logging builds the zap logger shared by every component.
package logging

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names. Use these instead of raw strings so log queries stay
// consistent across components.
const (
	FieldEvent      = "event"
	FieldRunID      = "run_id"
	FieldAnalysisID = "analysis_id"
	FieldRepository = "repository"
	FieldStage      = "stage"
	FieldStatus     = "status"
	FieldErrorKind  = "error_kind"
	FieldError      = "error"
	FieldDurationMS = "duration_ms"
	FieldPath       = "path"
	FieldCount      = "count"
)

// New returns a sugared logger. format is "json" (default) or "console".
func New(level, format string) (*zap.SugaredLogger, error) {
	lvl := zap.NewAtomicLevel()
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", level)
		}
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "console", "dev", "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = lvl

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger.Sugar().With("service", "vulnrisk"), nil
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
