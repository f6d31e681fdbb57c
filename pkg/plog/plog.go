// Package plog provides the application-wide leveled logger.
//
// Informational output goes to stdout, warnings and errors to stderr, so
// that progress streams can be piped or captured without mixing in
// diagnostics. A custom NOTICE level sits between INFO and WARN for
// per-item sync decisions that should be visible at the default level
// without being warnings.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LevelNotice is a custom level between slog.LevelInfo and slog.LevelWarn,
// used for per-path mirror decisions (copy, skip, dir created).
const LevelNotice = slog.Level(2)

// levelNames maps custom levels to their display names.
var levelNames = map[slog.Level]string{
	LevelNotice: "NOTICE",
}

// LevelDispatchHandler is a slog.Handler that writes log records to
// different handlers based on the record's level. NOTICE and below go to
// one handler, WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	levelVar      = new(slog.LevelVar)
)

// renameCustomLevels rewrites the level attribute so custom levels print
// with their own names instead of "INFO+2".
func renameCustomLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		if name, ok := levelNames[level]; ok {
			a.Value = slog.StringValue(name)
		}
	}
	return a
}

func newDispatchLogger(stdout, stderr io.Writer) *slog.Logger {
	stdoutHandler := slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: renameCustomLevels,
	})
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level:       slog.LevelWarn,
		ReplaceAttr: renameCustomLevels,
	})
	return slog.New(&LevelDispatchHandler{
		stdoutHandler: stdoutHandler,
		stderrHandler: stderrHandler,
	})
}

func init() {
	levelVar.Set(slog.LevelInfo)
	defaultLogger = newDispatchLogger(os.Stdout, os.Stderr)
}

// SetOutput redirects all log output to a single writer, primarily for
// testing. The level is lowered to debug so tests can observe everything.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	levelVar.Set(slog.LevelDebug)
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: renameCustomLevels,
	}))
}

// SetLevel sets the minimum level for stdout logging. Warnings and errors
// always pass through to stderr regardless of this setting.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// LevelFromString parses a level name, defaulting to info for unknown input.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// Notice logs a per-item decision message.
func Notice(msg string, args ...any) {
	logger().Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}
