package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var logrusLevels = map[LogLevel]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
	LevelFatal: logrus.FatalLevel,
}

// ParseLevel maps a level name to a LogLevel, falling back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Options controls where and how the logger writes.
type Options struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	Compress   bool
}

type Logger struct {
	level  LogLevel
	logger *logrus.Logger
}

func NewLogger(level LogLevel) *Logger {
	return newLogger(level, os.Stdout)
}

func newLogger(level LogLevel, out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	l.SetLevel(logrusLevels[level])
	return &Logger{level: level, logger: l}
}

// NewFromOptions builds a logger from Options. When the log file directory
// cannot be created the logger writes to stdout and the error is returned
// alongside the usable logger.
func NewFromOptions(opts Options) (*Logger, error) {
	out, outErr := buildOutput(opts)
	l := newLogger(ParseLevel(opts.Level), out)
	if outErr != nil {
		l.logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   opts.File,
		}).Warn(outErr.Error())
	}
	return l, outErr
}

func buildOutput(opts Options) (io.Writer, error) {
	if opts.File == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
		LocalTime:  true,
	}, nil
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(logrusLevels[level])
}

// Out returns the writer the logger currently writes to.
func (l *Logger) Out() io.Writer {
	return l.logger.Out
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, nil, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, nil, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, nil, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, nil, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, nil, format, args...)
}

// With returns an Entry carrying the given fields.
func (l *Logger) With(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

func (l *Logger) log(level LogLevel, fields Fields, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	entry := l.logger.WithField("caller", caller)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Log(logrusLevels[level], fmt.Sprintf(format, args...))
	if level == LevelFatal {
		l.logger.Exit(1)
	}
}

// Entry is a logger bound to a fixed set of structured fields.
type Entry struct {
	logger *Logger
	fields Fields
}

func (e *Entry) Debug(format string, args ...interface{}) {
	e.logger.log(LevelDebug, e.fields, format, args...)
}

func (e *Entry) Info(format string, args ...interface{}) {
	e.logger.log(LevelInfo, e.fields, format, args...)
}

func (e *Entry) Warn(format string, args ...interface{}) {
	e.logger.log(LevelWarn, e.fields, format, args...)
}

func (e *Entry) Error(format string, args ...interface{}) {
	e.logger.log(LevelError, e.fields, format, args...)
}

var (
	mu           sync.RWMutex
	globalLogger *Logger
)

// InitLogger replaces the global logger with a stdout logger at level.
func InitLogger(level LogLevel) {
	SetLogger(NewLogger(level))
}

func SetLogger(l *Logger) {
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

func GetLogger() *Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

func Debug(format string, args ...interface{}) {
	GetLogger().log(LevelDebug, nil, format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().log(LevelInfo, nil, format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().log(LevelWarn, nil, format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().log(LevelError, nil, format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().log(LevelFatal, nil, format, args...)
}

func With(fields Fields) *Entry {
	return GetLogger().With(fields)
}
