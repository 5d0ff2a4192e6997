// Package testutil builds fixture inputs and failing I/O doubles for tests.
package testutil

import (
	"errors"
	"io"
	"math/rand/v2"
)

// Noise returns n deterministic bytes that do not compress.
func Noise(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // reproducible test data
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

// FailingWriter rejects every write with Err, or io.ErrClosedPipe when
// Err is nil.
type FailingWriter struct {
	Err error
}

// Write implements io.Writer.
func (w FailingWriter) Write([]byte) (int, error) {
	if w.Err == nil {
		return 0, io.ErrClosedPipe
	}
	return 0, w.Err
}

// ErrReaderAfter serves the first N bytes of R and then fails with Err.
type ErrReaderAfter struct {
	R   io.Reader
	N   int64
	Err error

	read int64
}

// Read implements io.Reader.
func (r *ErrReaderAfter) Read(p []byte) (int, error) {
	if r.read >= r.N {
		return 0, r.err()
	}
	if left := r.N - r.read; int64(len(p)) > left {
		p = p[:left]
	}
	n, err := r.R.Read(p)
	r.read += int64(n)
	if errors.Is(err, io.EOF) {
		return n, r.err()
	}
	return n, err
}

func (r *ErrReaderAfter) err() error {
	if r.Err == nil {
		return io.ErrClosedPipe
	}
	return r.Err
}
