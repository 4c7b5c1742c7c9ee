// Package logger is the process-wide zap logger of the stats pipeline.
//
// Every line about an event or an account carries the same field names, so
// one raw event can be followed from ingestion through classification to
// the aggregation runs it triggered.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names shared by every package.
const (
	FieldTenant     = "tenant_id"
	FieldRawEventID = "raw_event_id"
	FieldReference  = "reference"
	FieldAccountID  = "account_id"
)

var (
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
)

// Init builds the global logger once. format is "json" (default) or
// "console".
func Init(level, format string) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		cfg := zap.NewProductionConfig()
		if format == "console" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		// The production config samples repeated lines, which per-event
		// logging at ingestion rate needs.
		cfg.Level = atomicLevel
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		global = l
	})
	return initErr
}

// Level returns the active level.
func Level() zapcore.Level {
	return atomicLevel.Level()
}

// L returns the global logger, or a no-op logger before Init.
func L() *zap.Logger {
	if global == nil {
		return zap.NewNop()
	}
	return global
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// ForTenant scopes a logger to one tenant.
func ForTenant(tenantID int64) *zap.Logger {
	return L().With(zap.Int64(FieldTenant, tenantID))
}

// ForRawEvent scopes a logger to one stored raw event.
func ForRawEvent(tenantID, rawEventID int64) *zap.Logger {
	return L().With(zap.Int64(FieldTenant, tenantID), zap.Int64(FieldRawEventID, rawEventID))
}

// ForReference scopes a logger to one player reference.
func ForReference(tenantID int64, reference string) *zap.Logger {
	return L().With(zap.Int64(FieldTenant, tenantID), zap.String(FieldReference, reference))
}

// Sync flushes any buffered log entries.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}
