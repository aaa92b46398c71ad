// Package logging holds the threadgraph process logger. Components take a
// *zap.Logger in their constructors; only main and tests touch the global.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is set by Init and read through Get.
var Logger *zap.Logger

// New builds a logger for env. Production writes JSON at info; every other
// env gets a coloured console at debug.
func New(env string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Init installs the logger from New as Logger and as zap's global.
func Init(env string) error {
	l, err := New(env)
	if err != nil {
		return err
	}
	Logger = l
	zap.ReplaceGlobals(l)
	return nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns Logger, or a development logger if Init never ran.
func Get() *zap.Logger {
	if Logger != nil {
		return Logger
	}
	l, _ := zap.NewDevelopment()
	return l
}

// OrNop lets constructors accept a nil logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
