// Package codec decodes compressed and archived inputs into entries.
//
// Every decoder reads its source strictly in stream order. Multi-entry
// containers (ZIP, TAR) implement Decoder; single-stream codecs (GZIP,
// BZIP2, XZ) are opened with OpenStream and yield one decompressed payload.
package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/meigma/retar/internal/archtype"
)

// Source is the byte source decoders read from. *stream.Source and
// *bufio.Reader satisfy it.
type Source interface {
	io.Reader
	io.ByteReader
	Peek(n int) ([]byte, error)
	Discard(n int) (int, error)
}

// Decoder produces the entries of a multi-entry container in stream order.
//
// Next returns io.EOF after the last entry. Calling Next skips whatever is
// left of the previous entry's content, so callers may ignore content they
// do not need. An entry's Content is invalid after the following Next.
type Decoder interface {
	Next() (*archtype.Entry, error)
	Close() error
}

// Options configures decoders.
type Options struct {
	// Logger receives debug and warning events. Nil disables logging.
	Logger *slog.Logger

	// Pool supplies zstd decoders for ZIP method 93. Nil creates one-off decoders.
	Pool *DecompressPool
}

func (o Options) log() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// classify maps a decoder error onto the error taxonomy: io.EOF and
// failures of the underlying source pass through, everything else is
// reported as archtype.ErrCorruptStream.
func classify(err error, what string) error {
	if err == nil || err == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
		return err
	}
	var ioErr *archtype.IOError
	if errors.As(err, &ioErr) {
		return err
	}
	if errors.Is(err, archtype.ErrCorruptStream) ||
		errors.Is(err, archtype.ErrUnsupportedCompression) ||
		errors.Is(err, archtype.ErrUnsupportedEntry) {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return archtype.Corrupt("%s: truncated", what)
	}
	return fmt.Errorf("%w: %s: %w", archtype.ErrCorruptStream, what, err)
}

// headerErr classifies a failure to read a structure that must be present,
// where even a clean io.EOF means the input was cut short.
func headerErr(err error, what string) error {
	if err == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
		return archtype.Corrupt("%s: truncated", what)
	}
	return classify(err, what)
}

// checkedReader classifies every error returned by r.
type checkedReader struct {
	r    io.Reader
	what string
}

func (c checkedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	return n, classify(err, c.what)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
