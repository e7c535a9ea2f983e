// Package logger wraps log/slog with the console/JSON handlers used across
// the dataflow services.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with a few contextual helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger. format "json" yields slog's JSON handler (for
// production log aggregation); anything else yields tint's colored console
// handler (for local development).
func New(level, format string) *Logger {
	var handler slog.Handler

	logLevel := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

type traceIDKey struct{}

// WithTraceID attaches a trace id to ctx for later retrieval by WithContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// WithContext returns a logger annotated with the trace id carried by ctx,
// if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		return &Logger{Logger: l.With("trace_id", traceID)}
	}
	return l
}

// WithWorkflow adds dataflow_id to the logger context.
func (l *Logger) WithWorkflow(dataflowID string) *Logger {
	return &Logger{Logger: l.With("dataflow_id", dataflowID)}
}

// WithNode adds node_id to the logger context.
func (l *Logger) WithNode(nodeID string) *Logger {
	return &Logger{Logger: l.With("node_id", nodeID)}
}

func parseLevel(level string) slog.Level {
	switch level {
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
