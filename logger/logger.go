/*
Package logger configures the application-wide structured logger.

PURPOSE:
  One slog.Logger for the whole process, JSON output, level set from
  configuration. Domain packages receive warnings as values and never
  log themselves; logging happens at the service edges (HTTP handlers,
  CLI, monthly computation entry points).

USAGE:
  logger.Init(cfg.LogLevel)
  logger.L.Info("monthly balance computed", "building", id, "month", mk)
*/
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// L is the global logger. Defaults to slog's default handler until
// Init replaces it with the configured JSON handler.
var L = slog.Default()

// Init configures the global logger. Call once at startup.
func Init(levelStr string) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		slog.Warn("invalid LOG_LEVEL, defaulting to info", "configured", levelStr)
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	L = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(L)
}
