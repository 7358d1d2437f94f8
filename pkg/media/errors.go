package media

import "github.com/jmylchreest/containerforge/internal/mediaerr"

// IsOutOfRange reports whether err is a mediaerr.OutOfRange failure.
func IsOutOfRange(err error) bool { return mediaerr.Is(err, mediaerr.OutOfRange) }

// IsUnsafe reports whether err is a mediaerr.Unsafe failure.
func IsUnsafe(err error) bool { return mediaerr.Is(err, mediaerr.Unsafe) }
