package tarenc

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/sizing"
)

// DefaultSpillMemory is how much of an unknown-size entry is held in
// memory before the remainder moves to a temporary file.
const DefaultSpillMemory = 32 << 20

// spill buffers the content of an entry whose size is only known once it
// has been drained. The first memLimit bytes stay in memory; beyond that
// everything moves to a temporary file in dir, removed by Close.
type spill struct {
	memLimit int64
	maxBytes int64
	dir      string

	mem  []byte
	file *os.File
	size int64
}

// Write appends p to the arena. It fails with archtype.ErrSpillLimit once
// more than maxBytes would be held.
func (s *spill) Write(p []byte) (int, error) {
	total, ok := sizing.AddInt64(s.size, int64(len(p)))
	if !ok || (s.maxBytes > 0 && total > s.maxBytes) {
		return 0, fmt.Errorf("%w: entry exceeds %d bytes", archtype.ErrSpillLimit, s.maxBytes)
	}

	if s.file == nil && int64(len(s.mem))+int64(len(p)) > s.memLimit {
		if err := s.moveToFile(); err != nil {
			return 0, err
		}
	}

	if s.file != nil {
		n, err := s.file.Write(p)
		s.size += int64(n)
		if err != nil {
			return n, &archtype.IOError{Op: archtype.OpWrite, Err: fmt.Errorf("spill file: %w", err)}
		}
		return n, nil
	}

	s.mem = append(s.mem, p...)
	s.size += int64(len(p))
	return len(p), nil
}

func (s *spill) moveToFile() error {
	f, err := os.CreateTemp(s.dir, "retar-spill-*")
	if err != nil {
		return &archtype.IOError{Op: archtype.OpWrite, Err: fmt.Errorf("create spill file: %w", err)}
	}
	s.file = f
	if _, err := f.Write(s.mem); err != nil {
		return &archtype.IOError{Op: archtype.OpWrite, Err: fmt.Errorf("spill file: %w", err)}
	}
	s.mem = nil
	return nil
}

// Size returns the number of bytes held.
func (s *spill) Size() int64 { return s.size }

// OnDisk reports whether the arena overflowed to a temporary file.
func (s *spill) OnDisk() bool { return s.file != nil }

// Reader rewinds the arena for reading.
func (s *spill) Reader() (io.Reader, error) {
	if s.file == nil {
		return bytes.NewReader(s.mem), nil
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, &archtype.IOError{Op: archtype.OpRead, Err: fmt.Errorf("rewind spill file: %w", err)}
	}
	return s.file, nil
}

// Close releases memory and removes the temporary file, if any.
func (s *spill) Close() error {
	s.mem = nil
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	s.file = nil
	return err
}
