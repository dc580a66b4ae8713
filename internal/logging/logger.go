// Package logging configures log/slog for the server and the CLI and hands
// out request-scoped loggers.
//
// A logger stored with [NewContext] wins over the default; otherwise
// [FromContext] derives one from slog.Default and tags it with chi's
// request id, so every line written while serving a request can be
// correlated.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup installs the process-wide logger writing to stdout.
//
// Level values: "debug", "info", "warn", "error" (default "info").
// Format values: "text", "json" (default "text"). Use json in production.
func Setup(level, format string) *slog.Logger {
	logger := New(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w. The CLI passes stderr so stdout carries
// only command output.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseLevel accepts slog's level names plus "warning". Anything else is info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger for ctx.
//
//	func handleRequest(w http.ResponseWriter, r *http.Request) {
//	    logging.FromContext(r.Context()).Info("cell updated", "cell", "B2")
//	}
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// WithFields returns the context logger with extra fields, for operations
// that log several steps with the same identifiers:
//
//	log := logging.WithFields(ctx, "sheet_id", sheetID)
//	log.Debug("recalculation started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
