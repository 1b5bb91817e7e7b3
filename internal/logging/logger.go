// Package logging provides structured logging configuration using log/slog.
//
// Loggers obtained through FromContext carry the identifiers stored in the
// context: the chi request ID for status server requests, and the run ID and
// dataset identifier while a batch is processing.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	ctxKeyRunID   contextKey = "run_id"
	ctxKeyDataset contextKey = "dataset"
	ctxKeyBundle  contextKey = "bundle"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
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

// WithRun returns a context carrying the batch run ID and bundle name.
func WithRun(ctx context.Context, runID, bundle string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRunID, runID)
	if bundle != "" {
		ctx = context.WithValue(ctx, ctxKeyBundle, bundle)
	}
	return ctx
}

// WithDataset returns a context carrying a dataset identifier.
func WithDataset(ctx context.Context, identifier string) context.Context {
	return context.WithValue(ctx, ctxKeyDataset, identifier)
}

// RunID returns the run ID stored in ctx, or "".
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRunID).(string)
	return v
}

// FromContext returns a logger enriched with the request, run and dataset
// identifiers found in ctx.
//
// Usage:
//
//	logger := logging.FromContext(ctx)
//	logger.Info("table written", "table", r.QualifiedTable())
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	// Chi's RequestID middleware stores the ID in context
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok && v != "" {
		logger = logger.With("run_id", v)
	}
	if v, ok := ctx.Value(ctxKeyBundle).(string); ok && v != "" {
		logger = logger.With("bundle", v)
	}
	if v, ok := ctx.Value(ctxKeyDataset).(string); ok && v != "" {
		logger = logger.With("dataset", v)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	stageLogger := logging.WithFields(ctx, "stage", "load", "table", table)
//	stageLogger.Info("stage started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
