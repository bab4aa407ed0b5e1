package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = slog.Level(-4)
	LevelInfo  = slog.Level(0)
	LevelWarn  = slog.Level(4)
	LevelError = slog.Level(8)
)

// InitLogging installs the default logger. Format is text or json.
func InitLogging(cfg LogConfig) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, cfg)))
}

func newHandler(w io.Writer, cfg LogConfig) slog.Handler {
	options := &slog.HandlerOptions{
		Level:     toLevel(cfg.Level),
		AddSource: cfg.Source,
	}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, options)
	}
	return slog.NewTextHandler(w, options)
}

func toLevel(lvl string) slog.Level {
	levels := map[string]slog.Level{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
	}
	if level, ok := levels[strings.ToLower(lvl)]; ok {
		return level
	}
	return LevelInfo
}
