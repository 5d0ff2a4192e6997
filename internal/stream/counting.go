package stream

import (
	"errors"
	"io"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/sizing"
)

// ErrOffsetOverflow is wrapped in an *archtype.IOError when a stream grows
// past the largest offset an int64 can report.
var ErrOffsetOverflow = errors.New("retar: stream offset overflows int64")

// offsetReader counts the bytes its reader has produced.
type offsetReader struct {
	r io.Reader
	n int64
}

func (c *offsetReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		sum, ok := sizing.AddInt64(c.n, int64(n))
		if !ok {
			return n, &archtype.IOError{Op: archtype.OpRead, Err: ErrOffsetOverflow}
		}
		c.n = sum
	}
	return n, err
}

// offsetWriter counts the bytes its writer has accepted.
type offsetWriter struct {
	w io.Writer
	n int64
}

func (c *offsetWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		sum, ok := sizing.AddInt64(c.n, int64(n))
		if !ok {
			return n, &archtype.IOError{Op: archtype.OpWrite, Err: ErrOffsetOverflow}
		}
		c.n = sum
	}
	return n, err
}
