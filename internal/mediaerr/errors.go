// Package mediaerr provides the tagged error type shared by every fallible
// operation in containerforge.
package mediaerr

import (
	"errors"
	"fmt"
)

// Kind classifies the twelve failure categories of the container engine.
type Kind int

// Kind values, in the order spec.md §7 lists them.
const (
	Invalid Kind = iota
	InvalidArguments
	Unsupported
	Unsafe
	OutOfRange
	Overflow
	OutOfMemory
	Uninitialized
	ReaderError
	MissingDependency
	InternalInconsistency
	ImageCore
)

// String returns the canonical UpperCamel name used in reason strings.
func (k Kind) String() string {
	switch k {
	case Invalid:
		return "Invalid"
	case InvalidArguments:
		return "InvalidArguments"
	case Unsupported:
		return "Unsupported"
	case Unsafe:
		return "Unsafe"
	case OutOfRange:
		return "OutOfRange"
	case Overflow:
		return "Overflow"
	case OutOfMemory:
		return "OutOfMemory"
	case Uninitialized:
		return "Uninitialized"
	case ReaderError:
		return "ReaderError"
	case MissingDependency:
		return "MissingDependency"
	case InternalInconsistency:
		return "InternalInconsistency"
	case ImageCore:
		return "ImageCore"
	default:
		return "Unknown"
	}
}

// Error is the tagged error every fallible operation returns. It carries the
// enum tag plus a short reason string (op, context message, wrapped cause)
// the way tvarr's StageError carries stage context around an inner error.
type Error struct {
	Kind Kind
	Op   string // the failing operation, e.g. "mp4.Demux", "Data.SetBounds"
	Msg  string // short, human-readable condition
	Err  error  // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors for conditions callers frequently want to test with
// errors.Is, mirroring internal/models/errors.go's package-level vars.
var (
	// ErrClosed indicates a demuxer/muxer was used after Close.
	ErrClosed = errors.New("use after close")
	// ErrDropped indicates a Sample payload-thunk's owning source was dropped.
	ErrDropped = errors.New("owning source dropped")
)
