package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides structured logging on top of a zap core
type Logger struct {
	z         *zap.Logger
	logFile   *os.File
	component string
}

// NewLogger creates a logger writing to stderr
func NewLogger(level Level, jsonFormat bool) *Logger {
	return NewWriterLogger(os.Stderr, level, jsonFormat)
}

// NewWriterLogger creates a logger writing to w
func NewWriterLogger(w io.Writer, level Level, jsonFormat bool) *Logger {
	return &Logger{z: zap.New(newCore(zapcore.AddSync(w), level, jsonFormat))}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// NewFileLogger creates a logger that writes to <baseDir>/<component>/<name>.log and stderr.
// An empty baseDir logs to stderr only.
func NewFileLogger(baseDir, component, name string, level Level, jsonFormat bool) (*Logger, error) {
	if baseDir == "" {
		l := NewLogger(level, jsonFormat)
		l.component = component
		return l, nil
	}

	logDir := filepath.Join(baseDir, component)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	logFileName := component + ".log"
	if name != "" {
		logFileName = name + ".log"
	}
	logPath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	ws := zapcore.NewMultiWriteSyncer(zapcore.AddSync(logFile), zapcore.Lock(os.Stderr))
	logger := &Logger{
		z:         zap.New(newCore(ws, level, jsonFormat)),
		logFile:   logFile,
		component: component + "/" + name,
	}

	logger.Info("Logger initialized", map[string]interface{}{"component": logger.component, "path": logPath})

	return logger, nil
}

func newCore(ws zapcore.WriteSyncer, level Level, jsonFormat bool) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewCore(enc, ws, level.zapLevel())
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			zf = append(zf, zap.NamedError(k, err))
			continue
		}
		zf = append(zf, zap.Any(k, fields[k]))
	}
	return zf
}

func (l *Logger) log(level Level, message string, fields []map[string]interface{}) {
	var zf []zap.Field
	if len(fields) > 0 {
		zf = toZapFields(fields[0])
	}

	switch level {
	case DEBUG:
		l.z.Debug(message, zf...)
	case INFO:
		l.z.Info(message, zf...)
	case WARN:
		l.z.Warn(message, zf...)
	case ERROR:
		l.z.Error(message, zf...)
	case FATAL:
		l.z.Fatal(message, zf...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(FATAL, message, fields)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields adds several fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		z:         l.z.With(toZapFields(fields)...),
		component: l.component,
	}
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch level {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	case "FATAL", "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Close flushes buffered entries and closes the log file if opened
func (l *Logger) Close() error {
	_ = l.z.Sync()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}
