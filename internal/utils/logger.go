package utils

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	defaultLevel      = Info
	defaultLevelMutex sync.RWMutex
	baseOnce          sync.Once
	base              *zap.Logger
)

// SetDefaultLogLevel changes the level used by loggers created afterwards.
func SetDefaultLogLevel(level LogLevel) {
	defaultLevelMutex.Lock()
	defer defaultLevelMutex.Unlock()
	defaultLevel = level
}

// ParseLogLevel maps a LOG_LEVEL string onto a LogLevel. Unknown values map to Info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

func baseLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// Logger provides structured logging with a component prefix
type Logger struct {
	prefix        string
	sugar         *zap.SugaredLogger
	logLevel      LogLevel
	logLevelMutex sync.RWMutex
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	defaultLevelMutex.RLock()
	level := defaultLevel
	defaultLevelMutex.RUnlock()
	if len(logLevel) > 0 {
		level = logLevel[0]
	}
	return newLoggerWithCore(prefix, baseLogger(), level)
}

// NewLoggerWithZap builds a Logger on top of an existing zap logger (used by tests).
func NewLoggerWithZap(prefix string, z *zap.Logger, level LogLevel) *Logger {
	return newLoggerWithCore(prefix, z, level)
}

func newLoggerWithCore(prefix string, z *zap.Logger, level LogLevel) *Logger {
	return &Logger{
		prefix:   prefix,
		sugar:    z.Named(prefix).Sugar(),
		logLevel: level,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

func (l *Logger) enabled(level LogLevel) bool {
	l.logLevelMutex.RLock()
	defer l.logLevelMutex.RUnlock()
	return l.logLevel <= level
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l.enabled(Info) {
		l.sugar.Infow(msg, keyvals...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if l.enabled(Error) {
		l.sugar.Errorw(msg, keyvals...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l.enabled(Warning) {
		l.sugar.Warnw(msg, keyvals...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l.enabled(Debug) {
		l.sugar.Debugw(msg, keyvals...)
	}
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
