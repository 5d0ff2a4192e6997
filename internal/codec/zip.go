package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/sizing"
)

// ZIP record signatures.
const (
	sigLocalHeader     = 0x04034b50
	sigDataDescriptor  = 0x08074b50
	sigCentralHeader   = 0x02014b50
	sigEndOfCentral    = 0x06054b50
	sigZip64EndCentral = 0x06064b50
	sigZip64Locator    = 0x07064b50
	sigDigitalSig      = 0x05054b50
	sigArchiveExtra    = 0x08064b50
)

// Compression methods.
const (
	methodStore   = 0
	methodDeflate = 8
	methodZstd    = 93
)

// General purpose flags.
const (
	flagEncrypted  = 0x1
	flagDescriptor = 0x8
)

// Extra field tags.
const (
	extraZip64     = 0x0001
	extraTimestamp = 0x5455
)

const (
	localHeaderLen = 30
	maxUint32      = 0xffffffff
)

// zipHeader is a decoded local file header.
type zipHeader struct {
	name    string
	flags   uint16
	method  uint16
	modTime time.Time
	crc     uint32
	csize   uint64
	usize   uint64
	zip64   bool
}

func (h *zipHeader) hasDescriptor() bool { return h.flags&flagDescriptor != 0 }

// zipDecoder walks ZIP local file headers in stream order. The central
// directory at the end of the archive is never consulted: it is reached
// only after every entry has been emitted and is skipped unread.
type zipDecoder struct {
	src   Source
	opts  Options
	cur   *zipContent
	count int
	done  bool
}

// NewZip returns a Decoder for a ZIP archive read sequentially from src.
//
// Local headers carry no permission or ownership data, so entries have a
// zero Mode and no owner; the caller supplies defaults. Entries written
// with a data descriptor have SizeUnknown until their content is read.
func NewZip(src Source, opts Options) Decoder {
	return &zipDecoder{src: src, opts: opts}
}

// Next returns the next entry or io.EOF once the central directory is reached.
func (d *zipDecoder) Next() (*archtype.Entry, error) {
	if d.done {
		return nil, io.EOF
	}
	if err := d.finishCurrent(); err != nil {
		return nil, err
	}

	for {
		sig, err := d.peekSignature()
		if err != nil {
			return nil, err
		}
		switch sig {
		case sigLocalHeader:
			return d.nextEntry()
		case sigDataDescriptor:
			// Split-archive marker, only valid before the first entry.
			if d.count > 0 {
				return nil, archtype.Corrupt("zip: stray data descriptor after entry %d", d.count)
			}
			if _, err := d.src.Discard(4); err != nil {
				return nil, classify(err, "zip")
			}
		case sigCentralHeader, sigEndOfCentral, sigZip64EndCentral, sigZip64Locator, sigDigitalSig, sigArchiveExtra:
			d.done = true
			d.opts.log().Debug("zip central directory reached", "entries", d.count)
			if _, err := io.Copy(io.Discard, d.src); err != nil {
				return nil, classify(err, "zip central directory")
			}
			return nil, io.EOF
		default:
			return nil, archtype.Corrupt("zip: unexpected signature 0x%08x after entry %d", sig, d.count)
		}
	}
}

// Close releases the decoder of the entry in progress.
func (d *zipDecoder) Close() error {
	if d.cur != nil {
		d.cur.release()
		d.cur = nil
	}
	return nil
}

func (d *zipDecoder) peekSignature() (uint32, error) {
	b, err := d.src.Peek(4)
	if len(b) < 4 {
		if err == nil || errors.Is(err, io.EOF) {
			return 0, archtype.Corrupt("zip: truncated before end of central directory")
		}
		return 0, classify(err, "zip")
	}
	return binary.LittleEndian.Uint32(b), nil
}

// finishCurrent drains and verifies whatever the caller left unread.
func (d *zipDecoder) finishCurrent() error {
	if d.cur == nil {
		return nil
	}
	cur := d.cur
	d.cur = nil
	defer cur.release()
	if _, err := io.Copy(io.Discard, cur); err != nil {
		return err
	}
	return nil
}

func (d *zipDecoder) nextEntry() (*archtype.Entry, error) {
	h, err := d.readLocalHeader()
	if err != nil {
		return nil, err
	}
	d.count++

	if h.flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: zip entry %q is encrypted", archtype.ErrUnsupportedCompression, h.name)
	}

	content, err := d.openContent(h)
	if err != nil {
		return nil, err
	}
	d.cur = content

	e := &archtype.Entry{
		Name:    h.name,
		Size:    archtype.SizeUnknown,
		ModTime: h.modTime,
		Kind:    archtype.KindRegular,
		Content: content,
	}
	if !h.hasDescriptor() {
		size, err := sizing.ToInt64(h.usize, archtype.Corrupt("zip entry %q size %d overflows", h.name, h.usize))
		if err != nil {
			return nil, err
		}
		e.Size = size
	}
	if strings.HasSuffix(h.name, "/") {
		e.Kind = archtype.KindDir
		e.Size = 0
		e.Content = emptyReader{}
	}

	d.opts.log().Debug("zip entry", "name", h.name, "method", h.method, "size", e.Size, "descriptor", h.hasDescriptor())
	return e, nil
}

func (d *zipDecoder) readLocalHeader() (*zipHeader, error) {
	var fixed [localHeaderLen]byte
	if _, err := io.ReadFull(d.src, fixed[:]); err != nil {
		return nil, headerErr(err, "zip local header")
	}
	le := binary.LittleEndian
	h := &zipHeader{
		flags:   le.Uint16(fixed[6:]),
		method:  le.Uint16(fixed[8:]),
		modTime: msDosTime(le.Uint16(fixed[12:]), le.Uint16(fixed[10:])),
		crc:     le.Uint32(fixed[14:]),
		csize:   uint64(le.Uint32(fixed[18:])),
		usize:   uint64(le.Uint32(fixed[22:])),
	}
	nameLen := int(le.Uint16(fixed[26:]))
	extraLen := int(le.Uint16(fixed[28:]))

	buf := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(d.src, buf); err != nil {
		return nil, headerErr(err, "zip local header name")
	}
	h.name = string(buf[:nameLen])
	if err := h.parseExtra(buf[nameLen:]); err != nil {
		return nil, err
	}
	return h, nil
}

// parseExtra applies the ZIP64 and extended timestamp extra fields.
func (h *zipHeader) parseExtra(extra []byte) error {
	le := binary.LittleEndian
	for len(extra) >= 4 {
		tag := le.Uint16(extra)
		size := int(le.Uint16(extra[2:]))
		extra = extra[4:]
		if size > len(extra) {
			return archtype.Corrupt("zip entry %q: extra field 0x%04x overruns header", h.name, tag)
		}
		field := extra[:size]
		extra = extra[size:]

		switch tag {
		case extraZip64:
			h.zip64 = true
			// Local headers carry both sizes; tolerate writers that only
			// emit the ones whose 32-bit field overflowed.
			if len(field) >= 16 {
				h.usize = le.Uint64(field)
				h.csize = le.Uint64(field[8:])
				continue
			}
			if h.usize == maxUint32 && len(field) >= 8 {
				h.usize = le.Uint64(field)
				field = field[8:]
			}
			if h.csize == maxUint32 && len(field) >= 8 {
				h.csize = le.Uint64(field)
			}
		case extraTimestamp:
			if len(field) >= 5 && field[0]&0x1 != 0 {
				h.modTime = time.Unix(int64(int32(le.Uint32(field[1:]))), 0) //nolint:gosec // signed 32-bit by definition
			}
		}
	}
	return nil
}

// openContent builds the reader for an entry's decompressed bytes.
func (d *zipDecoder) openContent(h *zipHeader) (*zipContent, error) {
	c := &zipContent{hdr: h, crc: crc32.NewIEEE()}

	var raw io.Reader
	switch {
	case !h.hasDescriptor():
		c.bounded = &io.LimitedReader{R: d.src, N: int64(min(h.csize, 1<<62))} //nolint:gosec // bounded above
		raw = c.bounded
	case h.method == methodDeflate:
		// Deflate marks its own end; reading byte-wise through the
		// ByteReader leaves the descriptor unread.
		raw = d.src
		c.trailer = func() error { return readDescriptor(d.src, h, c.n) }
	case h.method == methodStore:
		raw = newStoredScanner(d.src, h)
	default:
		return nil, fmt.Errorf("%w: zip entry %q uses method %d with a data descriptor", archtype.ErrUnsupportedCompression, h.name, h.method)
	}

	switch h.method {
	case methodStore:
		c.r = raw
	case methodDeflate:
		fr := flate.NewReader(raw)
		c.r = fr
		c.closers = append(c.closers, fr.Close)
	case methodZstd:
		dec, release, err := d.opts.Pool.Get(raw)
		if err != nil {
			return nil, classify(err, "zip zstd")
		}
		c.r = dec
		c.closers = append(c.closers, func() error { release(); return nil })
	default:
		return nil, fmt.Errorf("%w: zip entry %q uses method %d", archtype.ErrUnsupportedCompression, h.name, h.method)
	}
	return c, nil
}

// zipContent yields an entry's decompressed bytes and verifies the CRC-32
// and size once they are exhausted.
type zipContent struct {
	hdr     *zipHeader
	r       io.Reader
	crc     hash.Hash32
	n       uint64
	bounded *io.LimitedReader
	trailer func() error
	closers []func() error
	err     error
}

func (c *zipContent) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.r.Read(p)
	c.crc.Write(p[:n])
	c.n += uint64(n) //nolint:gosec // n is non-negative
	if err == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
		err = c.verify()
		if err == nil {
			err = io.EOF
		}
	} else if err != nil {
		err = classify(err, fmt.Sprintf("zip entry %q", c.hdr.name))
	}
	if err != nil {
		c.err = err
	}
	return n, err
}

func (c *zipContent) verify() error {
	h := c.hdr
	if c.trailer != nil {
		if err := c.trailer(); err != nil {
			return err
		}
	}
	if c.bounded != nil {
		// Compressed bytes the decompressor did not need.
		if _, err := io.Copy(io.Discard, c.bounded); err != nil {
			return classify(err, fmt.Sprintf("zip entry %q", h.name))
		}
		if c.bounded.N > 0 {
			return archtype.Corrupt("zip entry %q: truncated", h.name)
		}
	}
	if c.n != h.usize {
		return archtype.Corrupt("zip entry %q: size %d, header declares %d", h.name, c.n, h.usize)
	}
	if sum := c.crc.Sum32(); sum != h.crc {
		return archtype.Corrupt("zip entry %q: crc32 %08x, header declares %08x", h.name, sum, h.crc)
	}
	return nil
}

func (c *zipContent) release() {
	for _, closeFn := range c.closers {
		_ = closeFn() //nolint:errcheck // decompressor state only
	}
	c.closers = nil
}

// readDescriptor reads the data descriptor following a self-terminating
// entry of n decompressed bytes and stores the sizes and CRC it declares in
// h. The signature is optional.
func readDescriptor(src Source, h *zipHeader, n uint64) error {
	what := fmt.Sprintf("zip entry %q data descriptor", h.name)
	b, err := src.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return classify(err, what)
	}
	if len(b) == 4 && binary.LittleEndian.Uint32(b) == sigDataDescriptor {
		if _, err := src.Discard(4); err != nil {
			return headerErr(err, what)
		}
	}

	wide := h.zip64 || wideDescriptor(src, n)
	size := 12
	if wide {
		size = 20
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(src, buf); err != nil {
		return headerErr(err, what)
	}
	le := binary.LittleEndian
	h.crc = le.Uint32(buf)
	if wide {
		h.csize = le.Uint64(buf[4:])
		h.usize = le.Uint64(buf[12:])
	} else {
		h.csize = uint64(le.Uint32(buf[4:]))
		h.usize = uint64(le.Uint32(buf[8:]))
	}
	return nil
}

// wideDescriptor reports whether the unsigned descriptor at the head of src
// uses 8-byte sizes. Writers switch to that layout once either size reaches
// 4 GiB even when the local header has no ZIP64 extra field, so the layout
// is told by which reading declares the n bytes actually produced.
func wideDescriptor(src Source, n uint64) bool {
	b, _ := src.Peek(20) //nolint:errcheck // a short peek rules out the wide layout
	if len(b) < 20 {
		return false
	}
	return binary.LittleEndian.Uint64(b[12:]) == n
}

// storedScanner yields the bytes of a stored entry whose size is only
// given by a trailing data descriptor. The end of the entry is the first
// signed descriptor whose CRC-32 and sizes match the bytes seen so far.
type storedScanner struct {
	src  Source
	hdr  *zipHeader
	crc  hash.Hash32
	n    uint64
	done bool
}

// scanWindow is how far ahead the scanner looks for a descriptor. It must
// not exceed the source's buffer.
const scanWindow = 4096

var descriptorMagic = []byte("PK\x07\x08")

func newStoredScanner(src Source, h *zipHeader) *storedScanner {
	return &storedScanner{src: src, hdr: h, crc: crc32.NewIEEE()}
}

func (s *storedScanner) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	what := fmt.Sprintf("zip entry %q", s.hdr.name)

	win, err := s.src.Peek(scanWindow)
	eof := errors.Is(err, io.EOF)
	if err != nil && !eof {
		return 0, classify(err, what)
	}
	if len(win) == 0 {
		return 0, archtype.Corrupt("%s: missing data descriptor", what)
	}

	i := bytes.Index(win, descriptorMagic)
	var avail int
	switch {
	case i == 0:
		ok, err := s.matchDescriptor()
		if err != nil {
			return 0, err
		}
		if ok {
			s.done = true
			return 0, io.EOF
		}
		// Content that happens to contain the signature.
		avail = 1
	case i > 0:
		avail = i
	case eof:
		return 0, archtype.Corrupt("%s: missing data descriptor", what)
	default:
		// Keep a possible partial signature at the end of the window.
		avail = len(win) - (len(descriptorMagic) - 1)
	}

	n := copy(p, win[:min(avail, len(p))])
	s.crc.Write(p[:n])
	s.n += uint64(n) //nolint:gosec // n is non-negative
	if _, err := s.src.Discard(n); err != nil {
		return n, classify(err, what)
	}
	return n, nil
}

// matchDescriptor checks the candidate descriptor at the head of the
// source, consuming it on a match. Both layouts are tried once the entry
// reaches 4 GiB, since writers may use 8-byte sizes without announcing
// ZIP64 in the local header.
func (s *storedScanner) matchDescriptor() (bool, error) {
	var layouts []bool
	switch {
	case s.hdr.zip64 || s.n > maxUint32:
		layouts = []bool{true}
	case s.n == maxUint32:
		layouts = []bool{true, false}
	default:
		layouts = []bool{false}
	}
	for _, wide := range layouts {
		ok, err := s.matchLayout(wide)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (s *storedScanner) matchLayout(wide bool) (bool, error) {
	size := 16
	if wide {
		size = 24
	}
	b, err := s.src.Peek(size)
	if len(b) < size {
		if err != nil && !errors.Is(err, io.EOF) {
			return false, classify(err, "zip data descriptor")
		}
		return false, nil
	}

	le := binary.LittleEndian
	crc := le.Uint32(b[4:])
	var csize, usize uint64
	if wide {
		csize, usize = le.Uint64(b[8:]), le.Uint64(b[16:])
	} else {
		csize, usize = uint64(le.Uint32(b[8:])), uint64(le.Uint32(b[12:]))
	}
	if crc != s.crc.Sum32() || csize != s.n || usize != s.n {
		return false, nil
	}
	if _, err := s.src.Discard(size); err != nil {
		return false, classify(err, "zip data descriptor")
	}
	s.hdr.crc, s.hdr.csize, s.hdr.usize = crc, csize, usize
	return true, nil
}

// msDosTime converts an MS-DOS date and time, read as UTC.
func msDosTime(dosDate, dosTime uint16) time.Time {
	if dosDate == 0 {
		return time.Time{}
	}
	return time.Date(
		int(dosDate>>9)+1980,
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}
