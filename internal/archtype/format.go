package archtype

import (
	"fmt"
	"strings"
)

// Format identifies the container or compression format of an input.
type Format uint8

const (
	// FormatAuto means the format is not declared and must be detected.
	FormatAuto Format = iota
	FormatGzip
	FormatZip
	FormatBzip2
	FormatXz
	FormatTar
)

// String returns the lower-case name of the format.
func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatGzip:
		return "gzip"
	case FormatZip:
		return "zip"
	case FormatBzip2:
		return "bzip2"
	case FormatXz:
		return "xz"
	case FormatTar:
		return "tar"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// SingleStream reports whether the format carries exactly one unnamed
// payload rather than a sequence of named entries.
func (f Format) SingleStream() bool {
	return f == FormatGzip || f == FormatBzip2 || f == FormatXz
}

// ParseFormat parses a format name. Matching is case-insensitive and
// accepts the common aliases used on command lines ("gz", "bz2", "tgz").
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return FormatAuto, nil
	case "gzip", "gz", "tgz":
		return FormatGzip, nil
	case "zip":
		return FormatZip, nil
	case "bzip2", "bz2", "bz", "tbz2", "tbz":
		return FormatBzip2, nil
	case "xz", "txz":
		return FormatXz, nil
	case "tar":
		return FormatTar, nil
	default:
		return FormatAuto, fmt.Errorf("%w: unknown format name %q", ErrUnknownFormat, name)
	}
}
