// Package logger wraps zap behind a process-wide logger. The level
// lives in a zap.AtomicLevel so it can be raised or lowered at runtime
// through the admin endpoint without restarting the hub.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global      *zap.Logger
	atomicLevel zap.AtomicLevel
	once        sync.Once
)

// Init builds the process logger. level is one of debug, info, warn,
// error; format is "json" (production default) or "console". Only the
// first call takes effect.
func Init(level, format string) error {
	var initErr error
	once.Do(func() {
		atomicLevel = zap.NewAtomicLevel()
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		var cfg zap.Config
		if format == "console" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
		}
		cfg.Level = atomicLevel

		logger, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		global = logger
	})
	return initErr
}

// SetLevel changes the level of every logger derived from this package.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// GetLevel reports the level currently in effect.
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// L returns the process logger. Panics before Init.
func L() *zap.Logger {
	if global == nil {
		panic("logger.Init() must be called before logger.L()")
	}
	return global
}

// S returns the sugared form of L.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal logs and then exits the process.
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// With derives a child logger carrying fields on every entry.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// HTTPHandler exposes the atomic level as an http.Handler. The admin
// router mounts it so operators can GET the current level or PUT a new
// one while the server runs.
func HTTPHandler() *zap.AtomicLevel {
	return &atomicLevel
}

// Sync flushes buffered entries. Safe to call before Init.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}
