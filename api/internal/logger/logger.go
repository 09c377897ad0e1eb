package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config is embedded into config.Config under "log".
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

type Logger struct {
	*slog.Logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds a stdout logger; cfg may be nil.
func New(cfg *Config) *Logger {
	return NewWriter(cfg, os.Stdout)
}

func NewWriter(cfg *Config, w io.Writer) *Logger {
	var level, format string
	if cfg != nil {
		level, format = cfg.Level, cfg.Format
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// Nop discards everything. Handy in tests.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
