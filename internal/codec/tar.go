package codec

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/sizing"
	"github.com/meigma/retar/internal/tarhdr"
)

// paxGNUSparse prefixes the PAX records of GNU sparse members.
const paxGNUSparse = "GNU.sparse."

// maxExtHeader bounds PAX records and GNU long names.
const maxExtHeader = 1 << 20

var errExtHeaderTooLarge = archtype.Corrupt("tar extended header exceeds %d bytes", maxExtHeader)

// tarDecoder reads TAR members in stream order. It understands ustar, GNU
// long names and PAX extended headers; device and FIFO members are skipped.
type tarDecoder struct {
	src  Source
	opts Options
	cur  *tarContent
	pad  int64
	done bool
}

// NewTar returns a Decoder for a TAR archive read sequentially from src.
func NewTar(src Source, opts Options) Decoder {
	return &tarDecoder{src: src, opts: opts}
}

// Close is a no-op; the decoder holds no resources beyond src.
func (d *tarDecoder) Close() error { return nil }

// Next returns the next member or io.EOF at the end-of-archive marker or a
// clean end of input at a block boundary.
func (d *tarDecoder) Next() (*archtype.Entry, error) {
	if d.done {
		return nil, io.EOF
	}
	if err := d.skipCurrent(); err != nil {
		return nil, err
	}

	var (
		pax      map[string]string
		longName string
		longLink string
		haveName bool
		haveLink bool
	)
	for {
		var block tarhdr.Block
		if _, err := io.ReadFull(d.src, block[:]); err != nil {
			if err == io.EOF { //nolint:errorlint // io.ReadFull returns io.EOF unwrapped
				if pax != nil || haveName || haveLink {
					return nil, archtype.Corrupt("tar: extended header without a member")
				}
				d.done = true
				return nil, io.EOF
			}
			return nil, classify(err, "tar header")
		}
		if block.IsZero() {
			return nil, d.end()
		}

		h, err := tarhdr.Decode(&block)
		if err != nil {
			return nil, err
		}

		switch h.Typeflag {
		case tarhdr.TypeXHeader:
			data, err := d.readExt(h.Size)
			if err != nil {
				return nil, err
			}
			if pax, err = parsePAX(data, pax); err != nil {
				return nil, err
			}
			continue
		case tarhdr.TypeXGlobalHeader, tarhdr.TypeGNUVolHeader:
			if _, err := d.readExt(h.Size); err != nil {
				return nil, err
			}
			continue
		case tarhdr.TypeGNULongName, tarhdr.TypeGNULongLink:
			data, err := d.readExt(h.Size)
			if err != nil {
				return nil, err
			}
			name := string(bytes.TrimRight(data, "\x00"))
			if h.Typeflag == tarhdr.TypeGNULongName {
				longName, haveName = name, true
			} else {
				longLink, haveLink = name, true
			}
			continue
		}

		if haveName {
			h.Name = longName
		}
		if haveLink {
			h.Linkname = longLink
		}
		if err := applyPAX(h, pax); err != nil {
			return nil, err
		}

		e, err := d.entry(h)
		if err != nil {
			return nil, err
		}
		if e == nil {
			// Skipped member: extended headers applied only to it.
			pax, longName, longLink, haveName, haveLink = nil, "", "", false, false
			continue
		}
		return e, nil
	}
}

// entry converts h into an Entry, or returns nil after skipping a member
// type that has no TAR-to-TAR meaning outside a filesystem.
func (d *tarDecoder) entry(h *tarhdr.Header) (*archtype.Entry, error) {
	e := &archtype.Entry{
		Name:     h.Name,
		ModTime:  h.ModTime,
		Mode:     tarhdr.FileMode(h.Mode),
		HasMode:  true,
		UID:      int(h.UID),
		GID:      int(h.GID),
		Uname:    h.Uname,
		Gname:    h.Gname,
		Linkname: h.Linkname,
		Content:  emptyReader{},
	}

	switch h.Typeflag {
	case tarhdr.TypeReg, tarhdr.TypeRegA, tarhdr.TypeCont:
		e.Kind = archtype.KindRegular
		if h.Typeflag == tarhdr.TypeRegA && strings.HasSuffix(h.Name, "/") {
			e.Kind = archtype.KindDir
		}
	case tarhdr.TypeDir:
		e.Kind = archtype.KindDir
	case tarhdr.TypeLink:
		e.Kind = archtype.KindHardlink
	case tarhdr.TypeSymlink:
		e.Kind = archtype.KindSymlink
	case tarhdr.TypeChar, tarhdr.TypeBlock, tarhdr.TypeFifo:
		d.opts.log().Warn("skipping special file", "name", h.Name, "type", string(rune(h.Typeflag)))
		if err := d.skip(h.Size); err != nil {
			return nil, err
		}
		return nil, nil //nolint:nilnil // nil entry means skipped
	case tarhdr.TypeGNUSparse, tarhdr.TypeGNUMultiVol:
		return nil, archtype.Unsupported("tar member %q has type %q", h.Name, string(rune(h.Typeflag)))
	default:
		// Unknown types are read as regular files.
		e.Kind = archtype.KindRegular
	}

	if e.Kind == archtype.KindRegular {
		e.Size = h.Size
		d.cur = &tarContent{src: d.src, remaining: h.Size, name: h.Name}
		d.pad = sizing.BlockPadding(h.Size, tarhdr.BlockSize)
		e.Content = d.cur
		return e, nil
	}
	// Non-regular members carry no content, but skip whatever a writer put there.
	if err := d.skip(h.Size); err != nil {
		return nil, err
	}
	return e, nil
}

// end consumes the second zero block and any trailing padding.
func (d *tarDecoder) end() error {
	d.done = true
	if _, err := io.Copy(io.Discard, d.src); err != nil {
		return classify(err, "tar trailer")
	}
	d.opts.log().Debug("tar end-of-archive marker reached")
	return io.EOF
}

// skipCurrent discards the unread content and padding of the previous member.
func (d *tarDecoder) skipCurrent() error {
	if d.cur == nil {
		return nil
	}
	cur := d.cur
	d.cur = nil
	if _, err := io.Copy(io.Discard, cur); err != nil {
		return err
	}
	return d.discard(d.pad)
}

// skip discards a member body of size bytes plus its padding.
func (d *tarDecoder) skip(size int64) error {
	return d.discard(size + sizing.BlockPadding(size, tarhdr.BlockSize))
}

func (d *tarDecoder) discard(n int64) error {
	if n == 0 {
		return nil
	}
	got, err := io.CopyN(io.Discard, d.src, n)
	if err != nil {
		if got < n && errors.Is(err, io.EOF) {
			return archtype.Corrupt("tar: truncated member body")
		}
		return classify(err, "tar")
	}
	return nil
}

// readExt reads an extended header body and its padding.
func (d *tarDecoder) readExt(size int64) ([]byte, error) {
	if size > maxExtHeader {
		return nil, errExtHeaderTooLarge
	}
	data, err := sizing.ReadAllWithLimit(io.LimitReader(d.src, size), maxExtHeader, errExtHeaderTooLarge)
	if err != nil {
		return nil, classify(err, "tar extended header")
	}
	if int64(len(data)) < size {
		return nil, archtype.Corrupt("tar extended header: truncated")
	}
	if err := d.discard(sizing.BlockPadding(size, tarhdr.BlockSize)); err != nil {
		return nil, err
	}
	return data, nil
}

// tarContent reads exactly remaining bytes of member content.
type tarContent struct {
	src       Source
	remaining int64
	name      string
}

func (c *tarContent) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.src.Read(p)
	c.remaining -= int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if c.remaining > 0 {
				return n, archtype.Corrupt("tar member %q: truncated", c.name)
			}
			return n, nil
		}
		return n, classify(err, "tar member "+strconv.Quote(c.name))
	}
	return n, nil
}

// parsePAX parses PAX records of the form "%d %s=%s\n" into into, which is
// allocated when nil. Later records override earlier ones.
func parsePAX(data []byte, into map[string]string) (map[string]string, error) {
	if into == nil {
		into = make(map[string]string)
	}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp <= 0 {
			return nil, archtype.Corrupt("tar pax record: missing length")
		}
		n, err := strconv.Atoi(string(data[:sp]))
		if err != nil || n <= sp+1 || n > len(data) {
			return nil, archtype.Corrupt("tar pax record: bad length %q", data[:sp])
		}
		rec := data[sp+1 : n]
		data = data[n:]
		if len(rec) == 0 || rec[len(rec)-1] != '\n' {
			return nil, archtype.Corrupt("tar pax record: missing newline")
		}
		key, value, ok := strings.Cut(string(rec[:len(rec)-1]), "=")
		if !ok || key == "" {
			return nil, archtype.Corrupt("tar pax record: malformed %q", rec)
		}
		into[key] = value
	}
	return into, nil
}

// applyPAX overrides header fields with PAX records. Members described by
// GNU.sparse records are rejected: their body is a sparse map followed by
// data fragments, not the file content.
func applyPAX(h *tarhdr.Header, pax map[string]string) error {
	for key := range pax {
		if strings.HasPrefix(key, paxGNUSparse) {
			name := h.Name
			if real, ok := pax[paxGNUSparse+"name"]; ok {
				name = real
			}
			return archtype.Unsupported("tar member %q is a sparse file", name)
		}
	}
	for key, value := range pax {
		var err error
		switch key {
		case "path":
			h.Name = value
		case "linkpath":
			h.Linkname = value
		case "uname":
			h.Uname = value
		case "gname":
			h.Gname = value
		case "size":
			h.Size, err = strconv.ParseInt(value, 10, 64)
			if err == nil && h.Size < 0 {
				err = errors.New("negative")
			}
		case "uid":
			h.UID, err = strconv.ParseInt(value, 10, 64)
		case "gid":
			h.GID, err = strconv.ParseInt(value, 10, 64)
		case "mtime":
			h.ModTime, err = parsePAXTime(value)
		}
		if err != nil {
			return archtype.Corrupt("tar pax %s=%q: %v", key, value, err)
		}
	}
	return nil
}

// parsePAXTime parses "seconds[.fraction]".
func parsePAXTime(s string) (time.Time, error) {
	secs, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var nsec int64
	if frac != "" {
		frac = (frac + "000000000")[:9]
		if nsec, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, err
		}
		if strings.HasPrefix(secs, "-") {
			nsec = -nsec
		}
	}
	return time.Unix(sec, nsec), nil
}
