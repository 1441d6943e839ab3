// Package logging configures the process-wide slog.Logger: a Config
// struct controlling level, text/JSON handler choice, and optional PID
// and extra-field attributes.
//
// Handle keeps the slog.LevelVar backing the configured handler
// reachable after Configure returns, so the `verbose <n>` interactive
// command can raise or lower the log level at runtime without
// rebuilding the handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls the process logger's verbosity and output shape.
type Config struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	ExtraFields      map[string]string
}

// Handle bundles the configured logger with the LevelVar driving it, so
// callers can adjust verbosity after Configure without discarding the
// logger (and its WithAttrs-bound fields).
type Handle struct {
	Logger *slog.Logger
	level  *slog.LevelVar
}

// SetLevel changes the minimum level handled by the logger in place.
func (h Handle) SetLevel(level slog.Level) { h.level.Set(level) }

// SetVerbosity maps the `verbose <n>` command's integer argument onto a
// slog level: 0 is the default (INFO), 1 is DEBUG, anything else clamps
// to the nearest of those two.
func (h Handle) SetVerbosity(n int) {
	if n <= 0 {
		h.SetLevel(slog.LevelInfo)
		return
	}
	h.SetLevel(slog.LevelDebug)
}

// Configure builds the process logger and installs it as slog's
// default. Call it once at startup.
func Configure(cfg Config) Handle {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(cfg.Level))

	var handler slog.Handler
	out := io.Writer(os.Stderr)

	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+1)
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}

	if cfg.Structured {
		if strings.ToLower(cfg.StructuredFormat) == "json" {
			handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: levelVar})
		} else {
			handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: levelVar})
		}
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: levelVar})
	}

	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return Handle{Logger: logger, level: levelVar}
}

func parseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
