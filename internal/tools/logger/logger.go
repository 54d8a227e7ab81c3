package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"marketplace/internal/models/domainErrors"
)

// Logger is usable before InitLogger so packages can log from tests.
var Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func InitLogger(level string) {
	Logger = New(os.Stdout, level)
	slog.SetDefault(Logger)
}

func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func LogErrorWithCode(ctx context.Context, err error, message string, args ...any) {
	errCode := domainErrors.Code(err)

	formatted := fmt.Sprintf("ERROR: %s: %s", errCode, message)
	Logger.ErrorContext(ctx, formatted, append(args, "error", err)...)
}
