package retar

import "github.com/meigma/retar/internal/archtype"

// Format identifies the container or compression format of an input.
type Format = archtype.Format

// Supported formats. FormatAuto asks for detection from the leading bytes.
const (
	FormatAuto  = archtype.FormatAuto
	FormatGzip  = archtype.FormatGzip
	FormatZip   = archtype.FormatZip
	FormatBzip2 = archtype.FormatBzip2
	FormatXz    = archtype.FormatXz
	FormatTar   = archtype.FormatTar
)

// ParseFormat parses a format name such as "gzip", "bz2" or "auto".
func ParseFormat(name string) (Format, error) {
	return archtype.ParseFormat(name)
}

// Kind classifies an output entry.
type Kind = archtype.Kind

// Entry kinds.
const (
	KindRegular  = archtype.KindRegular
	KindDir      = archtype.KindDir
	KindSymlink  = archtype.KindSymlink
	KindHardlink = archtype.KindHardlink
)
