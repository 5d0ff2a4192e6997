package retar

import (
	"fmt"
	"strings"

	"github.com/meigma/retar/internal/archtype"
)

// Errors re-exported from the internal type package.
var (
	// ErrUnknownFormat is returned when no supported format matches an input.
	ErrUnknownFormat = archtype.ErrUnknownFormat

	// ErrFormatMismatch is returned when an input does not match its declared format.
	ErrFormatMismatch = archtype.ErrFormatMismatch

	// ErrCorruptStream is returned when a codec meets structurally invalid
	// or truncated data.
	ErrCorruptStream = archtype.ErrCorruptStream

	// ErrUnsupportedCompression is returned when a ZIP entry uses a
	// compression method or encryption that is not implemented.
	ErrUnsupportedCompression = archtype.ErrUnsupportedCompression

	// ErrUnsupportedEntry is returned for TAR sparse and multi-volume members.
	ErrUnsupportedEntry = archtype.ErrUnsupportedEntry

	// ErrUnsafePath is returned when an entry name is empty, absolute, or
	// escapes the archive root.
	ErrUnsafePath = archtype.ErrUnsafePath

	// ErrNameTooLong is returned when a name cannot be represented in a
	// ustar header.
	ErrNameTooLong = archtype.ErrNameTooLong

	// ErrSpillLimit is returned when an entry of unknown size exceeds the
	// limit set with WithMaxSpillBytes.
	ErrSpillLimit = archtype.ErrSpillLimit

	// ErrIO is matched by every failure of an input source or the output sink.
	ErrIO = archtype.ErrIO
)

// IOError reports a failure of an input source or the output sink, tagged
// with the operation ("read", "write" or "flush").
type IOError = archtype.IOError

// I/O operations tagged on IOError.
const (
	OpRead  = archtype.OpRead
	OpWrite = archtype.OpWrite
	OpFlush = archtype.OpFlush
)

// Error describes where a transcode job failed.
type Error struct {
	// Index is the position of the failing input, or -1 when the failure
	// is not tied to one input (finishing the archive).
	Index int

	// Input is the identifier of the failing input.
	Input string

	// Entry is the name of the entry being processed, if any.
	Entry string

	// Offset is the number of bytes consumed from the input when the
	// failure was detected, or -1 when unknown. Decompressors read ahead,
	// so the offset is where the failure surfaced, not necessarily where
	// the bad byte is.
	Offset int64

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("retar: ")
	if e.Index >= 0 {
		fmt.Fprintf(&b, "input %d", e.Index)
		if e.Input != "" {
			fmt.Fprintf(&b, " (%s)", e.Input)
		}
		if e.Entry != "" {
			fmt.Fprintf(&b, " entry %q", e.Entry)
		}
		if e.Offset >= 0 {
			fmt.Fprintf(&b, " at offset %d", e.Offset)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
