package logging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type contextKey string

var (
	loggerContextKey = contextKey("wordle-logger")

	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Level orders log verbosity from most to least chatty.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "info"
	}
}

// ParseLevel maps a textual level onto Level. Empty input means info.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

// Field is one structured attribute attached to a log line.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration returns a duration field rendered as a Go duration string.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }

// Error returns an error field. A nil error is recorded as null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Options configures a Logger built with New.
type Options struct {
	Level   string
	Path    string
	Service string
	Stdout  io.Writer
}

// Logger writes one JSON object per line. Derived loggers share the writer.
type Logger struct {
	out    *lockedWriter
	level  Level
	fields map[string]any
}

type lockedWriter struct {
	mu      sync.Mutex
	writers []io.Writer
	closers []io.Closer
}

func (w *lockedWriter) write(p []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dst := range w.writers {
		_, _ = dst.Write(p)
	}
}

func (w *lockedWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

// New builds a logger that mirrors to stdout and, when Path is set, appends to a file.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := &lockedWriter{}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	out.writers = append(out.writers, stdout)
	if path := strings.TrimSpace(opts.Path); path != "" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out.writers = append(out.writers, file)
		out.closers = append(out.closers, file)
	}
	service := opts.Service
	if service == "" {
		service = "wordle"
	}
	return &Logger{out: out, level: level, fields: map[string]any{"service": service}}, nil
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	return &Logger{
		out:    &lockedWriter{writers: []io.Writer{io.Discard}},
		level:  DebugLevel,
		fields: map[string]any{},
	}
}

// ReplaceGlobals installs logger as the fallback returned by L.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the process-wide fallback logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return &Logger{out: l.out, level: l.level, fields: merged}
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return L().Enabled(level)
	}
	return level >= l.level
}

// Close releases any file handles held by the logger.
func (l *Logger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}
	return l.out.close()
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(ErrorLevel, msg, fields) }

// Fatal logs and terminates the process with exit status 1.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.emit(FatalLevel, msg, fields)
	os.Exit(1)
}

func (l *Logger) emit(level Level, msg string, fields []Field) {
	if l == nil {
		L().emit(level, msg, fields)
		return
	}
	if level < l.level {
		return
	}
	line := make(map[string]any, len(l.fields)+len(fields)+3)
	for k, v := range l.fields {
		line[k] = v
	}
	for _, f := range fields {
		line[f.Key] = f.Value
	}
	line["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	line["level"] = level.String()
	line["msg"] = msg
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	l.out.write(append(data, '\n'))
}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext returns the logger stored in ctx, or L when there is none.
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}
