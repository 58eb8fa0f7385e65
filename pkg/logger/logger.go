// Package logger provides the process-wide structured logger for mobile-harness.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used with ForComponent.
const (
	CompConfig     = "config"
	CompCapability = "capability"
	CompSession    = "session"
	CompInteract   = "interact"
	CompRun        = "run"
	CompCapture    = "capture"
	CompReport     = "report"
	CompHistory    = "history"
	CompHarness    = "harness"
	CompArtifact   = "artifact"
)

// Config holds logging configuration.
type Config struct {
	// Path is the log file. Empty means no file output.
	Path string

	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" (default) or "text".
	Format string

	// Console, when set, receives a copy of every record (e.g. os.Stderr with --verbose).
	Console io.Writer

	MaxSizeMB  int // default 10
	MaxBackups int // default 5
	MaxAgeDays int // default 10
	Compress   bool
}

var (
	mu       sync.RWMutex
	handler  slog.Handler = slog.NewTextHandler(io.Discard, nil)
	writer   io.Writer    = io.Discard
	rotator  *lumberjack.Logger
	warnings atomic.Int64
)

// Init initializes the global logger. Calling Init again replaces the previous setup.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if rotator != nil {
		rotator.Close()
		rotator = nil
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	var writers []io.Writer
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotator)
	}
	if cfg.Console != nil {
		writers = append(writers, cfg.Console)
	}

	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return nil
}

// Close closes the log file and resets logging to discard.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if rotator != nil {
		rotator.Close()
		rotator = nil
	}
	writer = io.Discard
	handler = slog.NewTextHandler(io.Discard, nil)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func currentHandler() slog.Handler {
	mu.RLock()
	defer mu.RUnlock()
	return handler
}

// Logger returns a logger bound to the current handler.
func Logger() *slog.Logger {
	return slog.New(currentHandler())
}

// ForComponent returns a logger tagged with the component name.
// The handler is resolved on every record so package-level loggers
// created before Init still reach the configured output.
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

type dynamicHandler struct {
	attrs []slog.Attr
	group string
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return currentHandler().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn && r.Level < slog.LevelError {
		warnings.Add(1)
	}
	hd := currentHandler().WithAttrs(h.attrs)
	if h.group != "" {
		hd = hd.WithGroup(h.group)
	}
	return hd.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &dynamicHandler{attrs: merged, group: h.group}
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	return &dynamicHandler{attrs: h.attrs, group: name}
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	Logger().Info(fmt.Sprintf(format, v...))
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	Logger().Debug(fmt.Sprintf(format, v...))
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	Logger().Error(fmt.Sprintf(format, v...))
}

// Warn logs a warning message and counts it.
func Warn(format string, v ...interface{}) {
	warnings.Add(1)
	Logger().Warn(fmt.Sprintf(format, v...))
}

// Warnings returns the number of warnings logged since process start
// (or the last ResetWarnings). Used to surface soft failures.
func Warnings() int64 {
	return warnings.Load()
}

// ResetWarnings zeroes the warning counter (for testing).
func ResetWarnings() {
	warnings.Store(0)
}

// GetWriter returns the underlying writer.
func GetWriter() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return writer
}
