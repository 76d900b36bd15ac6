// Package infrastructure holds the ambient concerns shared by the authority
// and agent binaries: structured logging and trace-id propagation.
package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
)

type contextKey string

// TraceIDContextKey is the context key under which request/trace ids are stored.
const TraceIDContextKey contextKey = "trace_id"

// LoggingConfig configures the process-wide logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// InitializeLogger builds the global slog.Logger once per process and sets
// it as slog's default so package-level slog.Info/etc calls pick it up too.
func InitializeLogger(cfg LoggingConfig) *slog.Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = createLogger(cfg)
		slog.SetDefault(globalLogger)
	})
	return globalLogger
}

// Logger returns the global logger, defaulting to slog.Default() if
// InitializeLogger was never called (useful in tests).
func Logger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

func createLogger(cfg LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     parseLogLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(io.Writer(os.Stdout), opts)
	default:
		handler = slog.NewJSONHandler(io.Writer(os.Stdout), opts)
	}

	return slog.New(&traceHandler{Handler: handler})
}

// traceHandler injects the trace id from context into every record, mirroring
// the request-correlation idiom used throughout this fabric's HTTP surface.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID returns a context carrying traceID for later log correlation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// TraceIDFromContext extracts a trace id previously stored with WithTraceID.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDContextKey).(string); ok {
		return v
	}
	return ""
}

// ResetForTesting clears the global logger singleton; tests only.
func ResetForTesting() {
	globalLogger = nil
	globalLoggerOnce = sync.Once{}
}
