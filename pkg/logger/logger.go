// Package logger provides the leveled logging facade and the zap setup shared by
// every simulator component.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines a simple interface for logging.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// sugared adapts a zap SugaredLogger to the Logger interface.
type sugared struct {
	s *zap.SugaredLogger
}

func (l *sugared) Debug(args ...interface{})                 { l.s.Debug(args...) }
func (l *sugared) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *sugared) Info(args ...interface{})                  { l.s.Info(args...) }
func (l *sugared) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *sugared) Warn(args ...interface{})                  { l.s.Warn(args...) }
func (l *sugared) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *sugared) Error(args ...interface{})                 { l.s.Error(args...) }
func (l *sugared) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *sugared) Fatal(args ...interface{})                 { l.s.Fatal(args...) }
func (l *sugared) Fatalf(format string, args ...interface{}) { l.s.Fatalf(format, args...) }

// NewLogger creates a console Logger at the given level.
// loglevel could be "debug", "info", "warn", "error", "fatal"
func NewLogger(logLevel string) Logger {
	return FromZap(zap.New(consoleCore(parseLevel(logLevel))))
}

// FromZap wraps an existing zap logger in the Logger facade.
func FromZap(z *zap.Logger) Logger {
	return &sugared{s: z.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

var (
	mu  sync.RWMutex
	std = NewLogger("info")
)

// SetGlobalLogLevel reconfigures the global std logger's level.
func SetGlobalLogLevel(logLevel string) {
	mu.Lock()
	defer mu.Unlock()
	std = NewLogger(logLevel)
}

// SetGlobal routes the package-level functions through z.
func SetGlobal(z *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	// Package functions add one more frame than direct facade calls.
	std = &sugared{s: z.WithOptions(zap.AddCallerSkip(2)).Sugar()}
}

func global() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// NewZap builds the process logger. Output goes to stderr in console form and,
// when dir is non-empty, to the daily JSON file that the logs command tails.
// The returned closer syncs and closes the file.
func NewZap(logLevel, dir string) (*zap.Logger, func() error, error) {
	level := parseLevel(logLevel)
	cores := []zapcore.Core{consoleCore(level)}
	closer := func() error { return nil }

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(DailyFile(dir, time.Now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
		closer = func() error {
			_ = f.Sync()
			return f.Close()
		}
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return z, func() error {
		_ = z.Sync()
		return closer()
	}, nil
}

// DailyFile returns the JSON log file path for the given day.
func DailyFile(dir string, day time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("simulation-%s.log", day.Format("2006-01-02")))
}

func consoleCore(level zapcore.Level) zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
}

func parseLevel(logLevel string) zapcore.Level {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Debug logs a debug message using the global std logger.
func Debug(args ...interface{}) {
	global().Debug(args...)
}

// Debugf logs a debug message with formatting.
func Debugf(format string, args ...interface{}) {
	global().Debugf(format, args...)
}

// Info logs an informational message using the global std logger.
func Info(args ...interface{}) {
	global().Info(args...)
}

// Infof logs an informational message with formatting.
func Infof(format string, args ...interface{}) {
	global().Infof(format, args...)
}

// Warn logs a warning.
func Warn(args ...interface{}) {
	global().Warn(args...)
}

// Warnf logs a warning with formatting.
func Warnf(format string, args ...interface{}) {
	global().Warnf(format, args...)
}

// Error logs an error message.
func Error(args ...interface{}) {
	global().Error(args...)
}

// Errorf logs an error message with formatting.
func Errorf(format string, args ...interface{}) {
	global().Errorf(format, args...)
}

// Fatal logs a fatal error message and exits.
func Fatal(args ...interface{}) {
	global().Fatal(args...)
}

// Fatalf logs a fatal error message with formatting and exits.
func Fatalf(format string, args ...interface{}) {
	global().Fatalf(format, args...)
}
