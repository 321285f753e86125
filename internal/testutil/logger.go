// Package testutil provides shared test helpers for hostscout packages.
package testutil

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevelEnv raises test log verbosity, e.g. HOSTSCOUT_TEST_LOG=debug.
const LogLevelEnv = "HOSTSCOUT_TEST_LOG"

// Logger returns a development logger. Only errors are printed unless
// LogLevelEnv names a lower level, which keeps agent tests quiet.
func Logger() *zap.Logger {
	level := zapcore.ErrorLevel
	if s := os.Getenv(LogLevelEnv); s != "" {
		if l, err := zapcore.ParseLevel(s); err == nil {
			level = l
		}
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build()
	if err != nil {
		panic("testutil.Logger: " + err.Error())
	}
	return l
}
