package engine

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the logger shared by every Runtime, named "engine".
// Without SetLogger it discards everything.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger installs l for runtimes created afterwards.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l.Named("engine")
}

// debugf logs interpreter-level detail. Formatting is skipped unless the
// logger has debug enabled.
func debugf(format string, args ...any) {
	l := Logger()
	if ce := l.Check(zapcore.DebugLevel, ""); ce == nil {
		return
	}
	l.Sugar().Debugf(format, args...)
}
