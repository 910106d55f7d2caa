package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
)

// basic global logger, JSON to stderr; stdout belongs to the terminal shell.
var logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// Init replaces the global logger. Unknown levels fall back to info.
func Init(w io.Writer, level string) *slog.Logger {
	logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	return logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// WithUserID stores the authenticated user in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// LoggerFromContext adds user_id if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	userID, _ := ctx.Value(ctxKeyUserID).(string)
	if userID == "" {
		return logger
	}
	return logger.With("user_id", userID)
}
