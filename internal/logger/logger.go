package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger to provide logging functionality
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates a production JSON logger at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger, used by tests with zaptest.
func FromZap(l *zap.Logger) *Logger {
	return &Logger{SugaredLogger: l.Sugar()}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// Leveled adapts the logger to the leveled logging interface used by the
// retrying HTTP client.
func (l *Logger) Leveled() *LeveledLogger {
	return &LeveledLogger{l: l.SugaredLogger}
}

// LeveledLogger exposes Error/Info/Debug/Warn with key/value pairs.
type LeveledLogger struct {
	l *zap.SugaredLogger
}

func (a *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	a.l.Errorw(msg, keysAndValues...)
}

func (a *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	a.l.Infow(msg, keysAndValues...)
}

func (a *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	a.l.Debugw(msg, keysAndValues...)
}

func (a *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	a.l.Warnw(msg, keysAndValues...)
}
