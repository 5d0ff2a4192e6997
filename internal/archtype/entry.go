package archtype

import (
	"io"
	"io/fs"
	"time"
)

// SizeUnknown marks an entry whose content length is only known once the
// content has been drained.
const SizeUnknown int64 = -1

// Kind classifies an entry.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDir
	KindSymlink
	KindHardlink
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	case KindHardlink:
		return "hardlink"
	default:
		return "unknown"
	}
}

// Entry is one file-like unit produced by a decoder.
//
// Content is scoped to this entry: reading past its end yields io.EOF even
// when the underlying codec stream continues. Content is only valid until
// the next call to the producing iterator's Next.
type Entry struct {
	// Name is the slash-separated path of the entry (e.g., "src/main.go").
	// Directory names carry no trailing slash.
	Name string

	// Size is the content length in bytes, or SizeUnknown.
	Size int64

	// ModTime is the modification time. The zero value means the source
	// format did not record one.
	ModTime time.Time

	// Kind is the entry type.
	Kind Kind

	// Linkname is the link target for symlinks and hardlinks.
	Linkname string

	// Mode holds permission bits. Zero means the source did not record any
	// unless HasMode is set.
	Mode fs.FileMode

	// HasMode marks Mode as recorded by the source, so a zero Mode is kept
	// as 000 rather than replaced by a default.
	HasMode bool

	// UID and GID are the owner IDs recorded by the source, if any.
	UID int
	GID int

	// Uname and Gname are the owner names recorded by the source, if any.
	Uname string
	Gname string

	// Content yields exactly this entry's bytes.
	Content io.Reader
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Kind == KindDir
}

// HasContent reports whether the entry carries content bytes in a TAR stream.
func (e *Entry) HasContent() bool {
	return e.Kind == KindRegular
}
