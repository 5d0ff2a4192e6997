// Package detect identifies the format of an input from its leading bytes.
package detect

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/tarhdr"
)

// Peeker is a byte source whose prefix can be inspected without consuming it.
type Peeker interface {
	Peek(n int) ([]byte, error)
}

// magic describes the leading bytes of a format.
type magic struct {
	format archtype.Format
	prefix []byte
}

var magics = []magic{
	{archtype.FormatGzip, []byte{0x1f, 0x8b}},
	{archtype.FormatZip, []byte("PK\x03\x04")},
	{archtype.FormatZip, []byte("PK\x05\x06")}, // empty archive
	{archtype.FormatZip, []byte("PK\x07\x08")}, // spanning marker
	{archtype.FormatBzip2, []byte("BZh")},
	{archtype.FormatXz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
}

// PeekSize is the number of bytes detection inspects.
const PeekSize = 2 * tarhdr.BlockSize

// Detect returns the format of src. When declared is not FormatAuto the
// leading bytes are checked against it and a mismatch fails with
// archtype.ErrFormatMismatch. When nothing matches, Detect fails with
// archtype.ErrUnknownFormat.
//
// Detect only peeks; every byte remains available to the next reader.
func Detect(src Peeker, declared archtype.Format) (archtype.Format, error) {
	head, err := src.Peek(PeekSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return archtype.FormatAuto, err
	}

	found := Match(head)

	if declared == archtype.FormatAuto {
		if found == archtype.FormatAuto {
			return archtype.FormatAuto, fmt.Errorf("%w: %d leading bytes match no supported format", archtype.ErrUnknownFormat, len(head))
		}
		return found, nil
	}

	if !Matches(head, declared) {
		return archtype.FormatAuto, fmt.Errorf("%w: declared %s, content looks like %s", archtype.ErrFormatMismatch, declared, describe(found))
	}
	return declared, nil
}

// Matches reports whether head is a plausible start of format f. A TAR
// member name may itself begin with another format's magic, so TAR is
// checked by header checksum alone.
func Matches(head []byte, f archtype.Format) bool {
	if f == archtype.FormatTar {
		return IsTar(head)
	}
	for _, m := range magics {
		if m.format == f && bytes.HasPrefix(head, m.prefix) {
			return true
		}
	}
	return false
}

// Match returns the format whose signature head starts with, or FormatAuto.
func Match(head []byte) archtype.Format {
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return m.format
		}
	}
	if IsTar(head) {
		return archtype.FormatTar
	}
	return archtype.FormatAuto
}

// IsTar reports whether head begins with a TAR header block carrying a
// valid checksum, or with the two zero blocks of an empty archive.
func IsTar(head []byte) bool {
	if len(head) < tarhdr.BlockSize {
		return false
	}
	var block tarhdr.Block
	copy(block[:], head)
	if block.IsZero() {
		if len(head) < 2*tarhdr.BlockSize {
			return false
		}
		copy(block[:], head[tarhdr.BlockSize:])
		return block.IsZero()
	}
	return block.VerifyChecksum()
}

func describe(f archtype.Format) string {
	if f == archtype.FormatAuto {
		return "no supported format"
	}
	return f.String()
}
