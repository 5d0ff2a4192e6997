package stream

import (
	"bufio"
	"errors"
	"io"

	"github.com/meigma/retar/internal/archtype"
)

// Flusher is implemented by sinks that buffer internally.
type Flusher interface {
	Flush() error
}

// Sink is a push-based byte sink that writes to its destination in
// blockSize chunks. Write failures are reported as *archtype.IOError with
// Op "write", flush failures with Op "flush".
//
// Sink never closes its destination; closing is the caller's job.
type Sink struct {
	dst   io.Writer
	bw    *bufio.Writer
	count offsetWriter
}

// NewSink wraps w with a write buffer of blockSize bytes.
func NewSink(w io.Writer, blockSize int) *Sink {
	s := &Sink{dst: w}
	s.bw = bufio.NewWriterSize(ioTagWriter{w: w}, blockSize)
	s.count.w = s.bw
	return s
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	return s.count.Write(p)
}

// Written returns the number of bytes accepted so far, including bytes
// still held in the write buffer.
func (s *Sink) Written() uint64 {
	return uint64(s.count.n) //nolint:gosec // never negative
}

// Flush writes any buffered bytes and flushes the destination when it
// implements Flusher.
func (s *Sink) Flush() error {
	if err := s.bw.Flush(); err != nil {
		var ioErr *archtype.IOError
		if errors.As(err, &ioErr) {
			err = ioErr.Err
		}
		return &archtype.IOError{Op: archtype.OpFlush, Err: err}
	}
	if f, ok := s.dst.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return &archtype.IOError{Op: archtype.OpFlush, Err: err}
		}
	}
	return nil
}

type ioTagWriter struct {
	w io.Writer
}

func (t ioTagWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		return n, &archtype.IOError{Op: archtype.OpWrite, Err: err}
	}
	if n < len(p) {
		return n, &archtype.IOError{Op: archtype.OpWrite, Err: io.ErrShortWrite}
	}
	return n, nil
}
