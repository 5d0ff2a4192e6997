package archtype

import (
	"errors"
	"fmt"
)

// Sentinel errors for transcoding operations.
var (
	// ErrUnknownFormat is returned when no supported format matches an input.
	ErrUnknownFormat = errors.New("retar: unknown format")

	// ErrFormatMismatch is returned when an input does not match its declared format.
	ErrFormatMismatch = errors.New("retar: format mismatch")

	// ErrCorruptStream is returned when a codec meets structurally invalid data.
	ErrCorruptStream = errors.New("retar: corrupt stream")

	// ErrUnsupportedCompression is returned when a container uses an
	// unimplemented compression method or encryption.
	ErrUnsupportedCompression = errors.New("retar: unsupported compression")

	// ErrUnsupportedEntry is returned for entry types that cannot be carried
	// into the output (sparse or multi-volume TAR members).
	ErrUnsupportedEntry = errors.New("retar: unsupported entry type")

	// ErrUnsafePath is returned when an entry name is empty, absolute, or
	// escapes the archive root.
	ErrUnsafePath = errors.New("retar: unsafe path")

	// ErrNameTooLong is returned when a name cannot be represented in a TAR header.
	ErrNameTooLong = errors.New("retar: name too long")

	// ErrSpillLimit is returned when an entry of unknown size exceeds the
	// configured spill ceiling.
	ErrSpillLimit = errors.New("retar: spill limit exceeded")

	// ErrIO is matched by every IOError.
	ErrIO = errors.New("retar: i/o failure")
)

// I/O operations tagged on IOError.
const (
	OpRead  = "read"
	OpWrite = "write"
	OpFlush = "flush"
)

// IOError reports a failure of the underlying byte source or sink.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrIO, e.Op, e.Err)
}

// Unwrap exposes both ErrIO and the original error to errors.Is and errors.As.
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// Corrupt wraps a message as ErrCorruptStream.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptStream, fmt.Sprintf(format, args...))
}

// Unsupported wraps a message as ErrUnsupportedEntry.
func Unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedEntry, fmt.Sprintf(format, args...))
}
