// Package observability provides the logging conventions shared by every
// demuxer, muxer, and operator in containerforge.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// LevelTrace is one step below slog.LevelDebug, used for per-sample logging
// that is too noisy even for debug builds (open-GOP detection, PCM fusion).
const LevelTrace = slog.LevelDebug - 4

// GlobalLevel is the shared, runtime-adjustable log level for engine
// components that do not receive their own *slog.Logger.
var GlobalLevel = &slog.LevelVar{}

// Config controls how NewLogger builds a logger.
type Config struct {
	// Level is one of "trace", "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "text". Defaults to "json".
	Format string
	// AddSource annotates records with the call site.
	AddSource bool
}

// NewLogger builds a *slog.Logger writing to os.Stdout per cfg.
func NewLogger(cfg Config) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter builds a *slog.Logger writing to w, useful for tests.
func NewLoggerWithWriter(cfg Config, w io.Writer) *slog.Logger {
	GlobalLevel.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     GlobalLevel,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
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

// WithComponent tags logger with the emitting package, e.g. "mp4.demux".
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation tags logger with the specific operation in flight, e.g.
// "demux_open", "mux_finish".
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError attaches err to logger, no-op when err is nil.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}
