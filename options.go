package retar

import (
	"errors"
	"log/slog"
	"time"

	"github.com/meigma/retar/internal/stream"
	"github.com/meigma/retar/internal/tarenc"
)

// Option configures a Transcoder.
type Option func(*Transcoder) error

// Defaults applied by NewTranscoder.
const (
	// DefaultBlockSize is the read and write chunk size.
	DefaultBlockSize = stream.DefaultBlockSize

	// DefaultSpillMemory is how much of an unknown-size entry is held in
	// memory before spilling to a temporary file.
	DefaultSpillMemory int64 = tarenc.DefaultSpillMemory
)

// WithBlockSize sets the chunk size used for every read and write of
// entry content and for the output buffer. It must be positive.
func WithBlockSize(n int) Option {
	return func(t *Transcoder) error {
		if n <= 0 {
			return errors.New("block size must be positive")
		}
		t.blockSize = n
		return nil
	}
}

// WithLogger sets a logger for the transcoder.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transcoder) error {
		t.logger = logger
		return nil
	}
}

// WithProgress sets a callback for progress updates.
func WithProgress(fn ProgressFunc) Option {
	return func(t *Transcoder) error {
		t.progress = fn
		return nil
	}
}

// WithSpillMemory sets how many bytes of an unknown-size entry are held in
// memory before the rest moves to a temporary file. Zero uses
// DefaultSpillMemory.
func WithSpillMemory(n int64) Option {
	return func(t *Transcoder) error {
		if n < 0 {
			return errors.New("spill memory must not be negative")
		}
		t.spillMemory = n
		return nil
	}
}

// WithSpillDir sets the directory for spill files. Empty uses os.TempDir.
func WithSpillDir(dir string) Option {
	return func(t *Transcoder) error {
		t.spillDir = dir
		return nil
	}
}

// WithMaxSpillBytes caps the size of a single unknown-size entry. Larger
// entries fail the job with ErrSpillLimit. Zero means no limit.
func WithMaxSpillBytes(n int64) Option {
	return func(t *Transcoder) error {
		if n < 0 {
			return errors.New("max spill bytes must not be negative")
		}
		t.maxSpill = n
		return nil
	}
}

// WithNestedTar controls whether a GZIP, BZIP2 or XZ payload that is itself
// a TAR archive is emitted as that archive's entries instead of as one
// file. Disabled by default.
func WithNestedTar(enabled bool) Option {
	return func(t *Transcoder) error {
		t.nestedTar = enabled
		return nil
	}
}

// WithReadAhead lets entry content be decoded up to depth blocks ahead of
// the writer on a separate goroutine. Output order is unchanged. Zero
// (the default) copies synchronously.
func WithReadAhead(depth int) Option {
	return func(t *Transcoder) error {
		if depth < 0 {
			return errors.New("read-ahead depth must not be negative")
		}
		t.readAhead = depth
		return nil
	}
}

// WithDigests records a sha256 digest of every regular file in the Report.
func WithDigests(enabled bool) Option {
	return func(t *Transcoder) error {
		t.digests = enabled
		return nil
	}
}

// WithClock sets the time source used for entries whose input records no
// modification time. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Transcoder) error {
		t.clock = now
		return nil
	}
}

// WithMaxDecoderMemory limits the memory a zstd decoder may allocate for
// ZIP entries compressed with method 93. Zero applies the library default.
func WithMaxDecoderMemory(n uint64) Option {
	return func(t *Transcoder) error {
		t.maxDecoderMemory = n
		return nil
	}
}

// WithLowMemory makes zstd decoders use smaller buffers at some cost in
// speed.
func WithLowMemory(enabled bool) Option {
	return func(t *Transcoder) error {
		t.lowMemory = enabled
		return nil
	}
}
