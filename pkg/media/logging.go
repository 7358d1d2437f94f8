package media

import "log/slog"

// LogConfig is embedded (or passed standalone) by every demuxer/muxer
// constructor's own Config struct, the same optional-logger shape
// tvarr's daemon configs (FMP4DemuxerConfig, TSDemuxerConfig) use.
type LogConfig struct {
	// Logger receives structured trace/debug output. Nil defaults to
	// slog.Default().
	Logger *slog.Logger
}

// ResolveLogger returns cfg's logger, or slog.Default() if unset. Package
// constructors that accept a variadic trailing Config call this with the
// first element (if any) rather than repeating the nil-check inline.
func ResolveLogger(cfg LogConfig) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}
