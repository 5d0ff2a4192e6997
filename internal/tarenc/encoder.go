// Package tarenc writes entries as a ustar TAR stream.
//
// Entries are encoded one at a time in call order: a header block, the
// content padded to a 512-byte boundary, and after the last entry the
// two zero blocks that mark the end of the archive. Content whose size is
// unknown is drained into a spill arena first, since the header must
// carry the size before any content byte is written.
package tarenc

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/sizing"
	"github.com/meigma/retar/internal/stream"
	"github.com/meigma/retar/internal/tarhdr"
)

// Default permissions for entries whose source recorded none.
const (
	DefaultFileMode    fs.FileMode = 0o644
	DefaultDirMode     fs.FileMode = 0o755
	DefaultSymlinkMode fs.FileMode = 0o777
)

// Sink is the destination of the encoded stream.
type Sink interface {
	io.Writer
	Flush() error
}

// Options configures an Encoder.
type Options struct {
	// Logger receives per-entry debug events. Nil disables logging.
	Logger *slog.Logger

	// Pool supplies content copy buffers; its buffer size is the copy
	// chunk size. Nil uses stream.DefaultBlockSize.
	Pool *stream.BufferPool

	// ReadAhead is how many chunks may be decoded ahead of the writer.
	// Zero copies synchronously.
	ReadAhead int

	// SpillMemory bounds the in-memory part of the spill arena.
	// Zero uses DefaultSpillMemory.
	SpillMemory int64

	// SpillDir is where spill files are created. Empty uses os.TempDir.
	SpillDir string

	// MaxSpillBytes caps one unknown-size entry. Zero means unlimited.
	MaxSpillBytes int64

	// Digests computes a sha256 digest of every regular file's content.
	Digests bool

	// Clock supplies the modification time of entries that carry none.
	// Nil uses time.Now.
	Clock func() time.Time
}

// EntryResult describes one encoded entry.
type EntryResult struct {
	Name    string
	Kind    archtype.Kind
	Size    int64
	Digest  digest.Digest
	Spilled bool
}

// Encoder writes TAR headers and content to a Sink.
type Encoder struct {
	sink    Sink
	opts    Options
	pool    *stream.BufferPool
	entries int
}

var zeroBlock [tarhdr.BlockSize]byte

// New returns an Encoder writing to sink.
func New(sink Sink, opts Options) *Encoder {
	pool := opts.Pool
	if pool == nil {
		pool = stream.NewBufferPool(stream.DefaultBlockSize)
	}
	if opts.SpillMemory <= 0 {
		opts.SpillMemory = DefaultSpillMemory
	}
	return &Encoder{sink: sink, opts: opts, pool: pool}
}

func (e *Encoder) log() *slog.Logger {
	if e.opts.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.opts.Logger
}

func (e *Encoder) now() time.Time {
	if e.opts.Clock == nil {
		return time.Now()
	}
	return e.opts.Clock()
}

// WriteEntry encodes ent. Regular file content must yield exactly
// ent.Size bytes when the size is known; a short or long stream fails
// with archtype.ErrCorruptStream.
func (e *Encoder) WriteEntry(ent *archtype.Entry) (EntryResult, error) {
	res := EntryResult{Name: ent.Name, Kind: ent.Kind}

	content := ent.Content
	size := ent.Size
	if !ent.HasContent() {
		size = 0
	} else if size == archtype.SizeUnknown {
		sp, err := e.spillContent(ent)
		if err != nil {
			return res, err
		}
		defer func() {
			if err := sp.Close(); err != nil {
				e.log().Warn("removing spill file", "entry", ent.Name, "error", err)
			}
		}()
		if content, err = sp.Reader(); err != nil {
			return res, err
		}
		size = sp.Size()
		res.Spilled = sp.OnDisk()
	}
	if size < 0 {
		return res, archtype.Corrupt("entry %q has negative size %d", ent.Name, size)
	}
	res.Size = size

	hdr, err := e.header(ent, size)
	if err != nil {
		return res, err
	}
	block, err := hdr.Encode()
	if err != nil {
		return res, err
	}
	if _, err := e.sink.Write(block[:]); err != nil {
		return res, err
	}

	if ent.HasContent() {
		if res.Digest, err = e.writeContent(ent.Name, content, size); err != nil {
			return res, err
		}
	}

	e.entries++
	e.log().Debug("encoded entry", "entry", ent.Name, "kind", ent.Kind, "size", size, "spilled", res.Spilled)
	return res, nil
}

// header builds the TAR header for ent, filling in defaults for metadata
// the source did not record.
func (e *Encoder) header(ent *archtype.Entry, size int64) (*tarhdr.Header, error) {
	h := &tarhdr.Header{
		Name:    ent.Name,
		Size:    size,
		ModTime: ent.ModTime,
		UID:     int64(ent.UID),
		GID:     int64(ent.GID),
		Uname:   ent.Uname,
		Gname:   ent.Gname,
	}
	if h.ModTime.IsZero() {
		h.ModTime = e.now()
	}
	if len(h.Uname) >= tarhdr.OwnerNameSize || len(h.Gname) >= tarhdr.OwnerNameSize {
		e.log().Warn("owner name does not fit a ustar header, keeping numeric ids only",
			"entry", ent.Name, "uname", h.Uname, "gname", h.Gname)
	}

	mode := ent.Mode
	unset := mode == 0 && !ent.HasMode
	switch ent.Kind {
	case archtype.KindRegular:
		h.Typeflag = tarhdr.TypeReg
		if unset {
			mode = DefaultFileMode
		}
	case archtype.KindDir:
		h.Typeflag = tarhdr.TypeDir
		h.Name += "/"
		if unset {
			mode = DefaultDirMode
		}
	case archtype.KindSymlink:
		h.Typeflag = tarhdr.TypeSymlink
		h.Linkname = ent.Linkname
		if unset {
			mode = DefaultSymlinkMode
		}
	case archtype.KindHardlink:
		h.Typeflag = tarhdr.TypeLink
		h.Linkname = ent.Linkname
		if unset {
			mode = DefaultFileMode
		}
	default:
		return nil, archtype.Unsupported("entry %q has kind %s", ent.Name, ent.Kind)
	}
	h.Mode = tarhdr.ModeField(mode)
	return h, nil
}

// writeContent copies exactly size bytes of content followed by block
// padding and returns the content digest when digests are enabled.
func (e *Encoder) writeContent(name string, content io.Reader, size int64) (digest.Digest, error) {
	var dst io.Writer = e.sink
	var h hash.Hash
	if e.opts.Digests {
		h = sha256.New()
		dst = io.MultiWriter(e.sink, h)
	}

	n, err := stream.CopyAhead(dst, io.LimitReader(content, size), e.pool, e.opts.ReadAhead)
	if err != nil {
		return "", err
	}
	if n < size {
		return "", archtype.Corrupt("entry %q: content ended after %d of %d bytes", name, n, size)
	}
	// Reading to the end lets the decoder verify its trailer.
	var extra [1]byte
	m, err := io.ReadFull(content, extra[:])
	if m > 0 {
		return "", archtype.Corrupt("entry %q: content longer than declared %d bytes", name, size)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	if pad := sizing.BlockPadding(size, tarhdr.BlockSize); pad > 0 {
		if _, err := e.sink.Write(zeroBlock[:pad]); err != nil {
			return "", err
		}
	}
	if h == nil {
		return "", nil
	}
	return digest.NewDigest(digest.SHA256, h), nil
}

// spillContent drains unknown-size content into a spill arena.
func (e *Encoder) spillContent(ent *archtype.Entry) (*spill, error) {
	sp := &spill{
		memLimit: e.opts.SpillMemory,
		maxBytes: e.opts.MaxSpillBytes,
		dir:      e.opts.SpillDir,
	}
	buf := e.pool.Get()
	defer e.pool.Put(buf)
	if _, err := stream.Copy(sp, ent.Content, *buf); err != nil {
		_ = sp.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("buffer entry %q: %w", ent.Name, err)
	}
	if sp.OnDisk() {
		e.log().Debug("spilled entry to disk", "entry", ent.Name, "size", sp.Size())
	}
	return sp, nil
}

// Finish writes the end-of-archive marker and flushes the sink. It must be
// called once, after the last entry, and only on success.
func (e *Encoder) Finish() error {
	for range 2 {
		if _, err := e.sink.Write(zeroBlock[:]); err != nil {
			return err
		}
	}
	if err := e.sink.Flush(); err != nil {
		return err
	}
	e.log().Debug("archive finished", "entries", e.entries)
	return nil
}

// Entries returns the number of entries written.
func (e *Encoder) Entries() int { return e.entries }
