package retar

import "github.com/opencontainers/go-digest"

// Report summarizes a transcode job. On failure it covers the inputs and
// entries completed before the error.
type Report struct {
	// Inputs lists the fully processed inputs in job order.
	Inputs []InputReport

	// Entries lists every entry written, in output order.
	Entries []EntryReport

	// BytesWritten is the size of the output, end marker included. It is
	// zero for a failed job.
	BytesWritten uint64
}

// InputReport describes one processed input.
type InputReport struct {
	Name   string
	Format Format

	// Nested is true when a compressed payload was unwrapped as TAR.
	Nested bool

	Entries   int
	BytesRead int64
}

// EntryReport describes one written entry.
type EntryReport struct {
	// Input is the index of the input the entry came from.
	Input int

	Name string
	Kind Kind
	Size int64

	// Digest is the sha256 of the content, set for regular files when
	// digests are enabled.
	Digest digest.Digest

	// Spilled is true when the content was buffered through a temporary file.
	Spilled bool
}
