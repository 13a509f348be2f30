// Package logging sets up the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dotse/slug"
	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a config level string to a slog level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
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

// New builds a logger writing to out and, when logPath is non-empty, to that file too.
// The returned closer releases the log file.
func New(out io.Writer, level string, logPath string) (*slog.Logger, func(), error) {
	var (
		closer = func() {}
		opts   = slug.HandlerOptions{
			HandlerOptions: slog.HandlerOptions{
				Level: ParseLevel(level),
			},
		}
		handlers = []slog.Handler{slug.NewHandler(opts, out)}
	)

	if logPath != "" {
		logFile, errLogFile := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if errLogFile != nil {
			return nil, closer, fmt.Errorf("failed to open logfile: %w", errLogFile)
		}

		closer = func() {
			if errClose := logFile.Close(); errClose != nil {
				slog.Error("Failed to close log file", slog.String("error", errClose.Error()))
			}
		}

		handlers = append(handlers, slug.NewHandler(opts, logFile))
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// MustSetDefault installs a logger from New as the slog default. Panics on failure.
func MustSetDefault(level string, logPath string) func() {
	logger, closer, err := New(os.Stdout, level, logPath)
	if err != nil {
		panic(err)
	}

	slog.SetDefault(logger)

	return closer
}
