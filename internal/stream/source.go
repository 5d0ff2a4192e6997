// Package stream provides the byte source and sink plumbing shared by the
// detector, the codecs and the TAR encoder.
package stream

import (
	"bufio"
	"errors"
	"io"

	"github.com/meigma/retar/internal/archtype"
)

// MinBufferSize is the smallest read buffer a Source uses. Detection peeks
// up to two TAR blocks, so the buffer must hold at least that much.
const MinBufferSize = 4096

// Source is a buffered, pull-based byte source.
//
// Bytes returned by Peek are not consumed and are replayed to the next
// Read, so a detector can inspect a prefix without losing it. Errors from
// the underlying reader other than io.EOF are reported as
// *archtype.IOError with Op "read".
type Source struct {
	br  *bufio.Reader
	raw *offsetReader
}

// NewSource wraps r with a read buffer of at least bufSize bytes.
func NewSource(r io.Reader, bufSize int) *Source {
	if bufSize < MinBufferSize {
		bufSize = MinBufferSize
	}
	raw := &offsetReader{r: ioTagReader{r: r}}
	return &Source{
		br:  bufio.NewReaderSize(raw, bufSize),
		raw: raw,
	}
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	return s.br.Read(p)
}

// ReadByte implements io.ByteReader. Decompressors that see an
// io.ByteReader read exactly as far as their stream extends.
func (s *Source) ReadByte() (byte, error) {
	return s.br.ReadByte()
}

// Peek returns the next n bytes without consuming them. Fewer than n bytes
// are returned together with an error when the source ends first.
func (s *Source) Peek(n int) ([]byte, error) {
	return s.br.Peek(n)
}

// Discard skips the next n bytes.
func (s *Source) Discard(n int) (int, error) {
	return s.br.Discard(n)
}

// Offset returns the number of bytes consumed by readers of this Source.
// Peeked bytes are not counted until they are read.
func (s *Source) Offset() int64 {
	return s.raw.n - int64(s.br.Buffered())
}

// Drain consumes and discards the rest of the source, returning the
// number of bytes skipped.
func (s *Source) Drain() (int64, error) {
	return io.Copy(io.Discard, s.br)
}

// ioTagReader marks failures of the underlying reader so codecs can tell
// them apart from corrupt data.
type ioTagReader struct {
	r io.Reader
}

func (t ioTagReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
		var ioErr *archtype.IOError
		if !errors.As(err, &ioErr) {
			err = &archtype.IOError{Op: archtype.OpRead, Err: err}
		}
	}
	return n, err
}
