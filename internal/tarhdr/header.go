// Package tarhdr encodes and decodes 512-byte TAR header blocks.
//
// Headers are written in the POSIX ustar layout. Names longer than the
// 100-byte name field are split across the 155-byte prefix field; anything
// that does not fit is rejected rather than carried in PAX or GNU extension
// records. Numeric fields fall back to the base-256 encoding understood by
// GNU tar, bsdtar and archive/tar when a value overflows its octal field.
package tarhdr

import (
	"bytes"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/retar/internal/archtype"
)

// BlockSize is the size of every TAR header and content block.
const BlockSize = 512

// Type flags.
const (
	TypeReg           = '0'
	TypeRegA          = '\x00'
	TypeLink          = '1'
	TypeSymlink       = '2'
	TypeChar          = '3'
	TypeBlock         = '4'
	TypeDir           = '5'
	TypeFifo          = '6'
	TypeCont          = '7'
	TypeXHeader       = 'x'
	TypeXGlobalHeader = 'g'
	TypeGNULongName   = 'L'
	TypeGNULongLink   = 'K'
	TypeGNUSparse     = 'S'
	TypeGNUMultiVol   = 'M'
	TypeGNUVolHeader  = 'V'
)

// Field sizes.
const (
	NameSize   = 100
	PrefixSize = 155
	// OwnerNameSize holds a user or group name and its NUL terminator.
	OwnerNameSize = 32
	// MaxNameSize is the longest name representable with a prefix split.
	MaxNameSize = PrefixSize + 1 + NameSize
)

// Field offsets within a block.
const (
	offName     = 0
	offMode     = 100
	offUID      = 108
	offGID      = 116
	offSize     = 124
	offMtime    = 136
	offChksum   = 148
	offTypeflag = 156
	offLinkname = 157
	offMagic    = 257
	offVersion  = 263
	offUname    = 265
	offGname    = 297
	offDevmajor = 329
	offDevminor = 337
	offPrefix   = 345
)

const (
	magicUSTAR   = "ustar\x00"
	versionUSTAR = "00"
	magicGNU     = "ustar "
	versionGNU   = " \x00"
)

// Variant identifies the header dialect found when decoding.
type Variant uint8

const (
	VariantV7 Variant = iota
	VariantUSTAR
	VariantGNU
)

// Block is one raw 512-byte TAR block.
type Block [BlockSize]byte

// Header is the decoded form of a TAR header block.
type Header struct {
	Name     string
	Linkname string
	Typeflag byte
	Mode     int64
	UID      int64
	GID      int64
	Size     int64
	ModTime  time.Time
	Uname    string
	Gname    string
	Variant  Variant
}

// IsZero reports whether every byte of the block is zero.
func (b *Block) IsZero() bool {
	return *b == Block{}
}

// Checksum computes the unsigned and signed header sums, treating the
// checksum field as eight spaces.
func (b *Block) Checksum() (unsigned, signed int64) {
	for i, c := range b {
		if i >= offChksum && i < offChksum+8 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}

// VerifyChecksum reports whether the stored checksum matches either the
// unsigned or the historical signed sum.
func (b *Block) VerifyChecksum() bool {
	stored, err := parseNumeric(b[offChksum : offChksum+8])
	if err != nil {
		return false
	}
	unsigned, signed := b.Checksum()
	return stored == unsigned || stored == signed
}

// SetChecksum computes and stores the checksum as six octal digits
// followed by NUL and space.
func (b *Block) SetChecksum() {
	unsigned, _ := b.Checksum()
	copy(b[offChksum:], fmt.Sprintf("%06o\x00 ", unsigned))
}

// Encode serializes h into a ustar header block with a valid checksum.
// It fails with archtype.ErrNameTooLong when the name or link target
// cannot be represented. A Uname or Gname of OwnerNameSize bytes or more
// is left empty; the numeric UID and GID still identify the owner.
func (h *Header) Encode() (*Block, error) {
	var b Block

	prefix, name, ok := SplitName(h.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %d bytes", archtype.ErrNameTooLong, h.Name, len(h.Name))
	}
	if len(h.Linkname) > NameSize {
		return nil, fmt.Errorf("%w: link target %q is %d bytes", archtype.ErrNameTooLong, h.Linkname, len(h.Linkname))
	}

	copy(b[offName:offName+NameSize], name)
	copy(b[offPrefix:offPrefix+PrefixSize], prefix)
	copy(b[offLinkname:offLinkname+NameSize], h.Linkname)
	formatOctal(b[offMode:offMode+8], h.Mode&0o7777)
	formatNumeric(b[offUID:offUID+8], h.UID)
	formatNumeric(b[offGID:offGID+8], h.GID)
	formatNumeric(b[offSize:offSize+12], h.Size)
	formatNumeric(b[offMtime:offMtime+12], h.ModTime.Unix())
	b[offTypeflag] = h.Typeflag
	copy(b[offMagic:], magicUSTAR)
	copy(b[offVersion:], versionUSTAR)
	if len(h.Uname) < OwnerNameSize {
		copy(b[offUname:offUname+OwnerNameSize], h.Uname)
	}
	if len(h.Gname) < OwnerNameSize {
		copy(b[offGname:offGname+OwnerNameSize], h.Gname)
	}
	formatOctal(b[offDevmajor:offDevmajor+8], 0)
	formatOctal(b[offDevminor:offDevminor+8], 0)

	b.SetChecksum()
	return &b, nil
}

// Decode parses a header block. The checksum is verified first; a block
// that fails verification or holds malformed numeric fields is reported as
// archtype.ErrCorruptStream.
func Decode(b *Block) (*Header, error) {
	if !b.VerifyChecksum() {
		return nil, archtype.Corrupt("tar header checksum mismatch")
	}

	h := &Header{
		Typeflag: b[offTypeflag],
		Name:     cString(b[offName : offName+NameSize]),
		Linkname: cString(b[offLinkname : offLinkname+NameSize]),
	}

	magic := string(b[offMagic : offMagic+6])
	version := string(b[offVersion : offVersion+2])
	switch {
	case magic == magicUSTAR:
		h.Variant = VariantUSTAR
	case magic == magicGNU && version == versionGNU:
		h.Variant = VariantGNU
	default:
		h.Variant = VariantV7
	}
	if h.Variant != VariantV7 {
		h.Uname = cString(b[offUname : offUname+OwnerNameSize])
		h.Gname = cString(b[offGname : offGname+OwnerNameSize])
	}
	if h.Variant == VariantUSTAR {
		if prefix := cString(b[offPrefix : offPrefix+PrefixSize]); prefix != "" {
			h.Name = prefix + "/" + h.Name
		}
	}

	var err error
	fields := []struct {
		dst  *int64
		name string
		raw  []byte
	}{
		{&h.Mode, "mode", b[offMode : offMode+8]},
		{&h.UID, "uid", b[offUID : offUID+8]},
		{&h.GID, "gid", b[offGID : offGID+8]},
		{&h.Size, "size", b[offSize : offSize+12]},
	}
	for _, f := range fields {
		if *f.dst, err = parseNumeric(f.raw); err != nil {
			return nil, archtype.Corrupt("tar header %s field: %v", f.name, err)
		}
	}
	if h.Size < 0 {
		return nil, archtype.Corrupt("tar header negative size %d", h.Size)
	}
	mtime, err := parseNumeric(b[offMtime : offMtime+12])
	if err != nil {
		return nil, archtype.Corrupt("tar header mtime field: %v", err)
	}
	h.ModTime = time.Unix(mtime, 0)

	return h, nil
}

// SplitName splits name into ustar prefix and name fields. It returns
// ok=false when the name cannot be represented.
func SplitName(name string) (prefix, suffix string, ok bool) {
	if len(name) <= NameSize {
		return "", name, true
	}
	if len(name) > MaxNameSize {
		return "", "", false
	}
	length := len(name)
	if length > PrefixSize+1 {
		length = PrefixSize + 1
	} else if name[length-1] == '/' {
		length--
	}
	i := strings.LastIndex(name[:length], "/")
	if i <= 0 {
		return "", "", false
	}
	suffix = name[i+1:]
	if len(suffix) == 0 || len(suffix) > NameSize || i > PrefixSize {
		return "", "", false
	}
	return name[:i], suffix, true
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// formatOctal writes v as zero-padded octal digits terminated by NUL.
func formatOctal(dst []byte, v int64) {
	digits := len(dst) - 1
	s := strconv.FormatInt(v, 8)
	if pad := digits - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	copy(dst, s)
	dst[len(dst)-1] = 0
}

// fitsOctal reports whether v fits in an octal field of n bytes.
func fitsOctal(v int64, n int) bool {
	return v >= 0 && (n-1) < 22 && v < int64(1)<<(3*(n-1))
}

// formatNumeric writes v in octal when it fits and in base-256 otherwise.
func formatNumeric(dst []byte, v int64) {
	if fitsOctal(v, len(dst)) {
		formatOctal(dst, v)
		return
	}
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
	dst[0] |= 0x80
}

// parseNumeric parses an octal or base-256 numeric field.
func parseNumeric(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		var inv byte
		if b[0]&0x40 != 0 {
			inv = 0xff
		}
		var x uint64
		for i, c := range b {
			c ^= inv
			if i == 0 {
				c &= 0x7f
			}
			if x>>56 > 0 {
				return 0, fmt.Errorf("base-256 value overflows int64")
			}
			x = x<<8 | uint64(c)
		}
		if x>>63 > 0 {
			return 0, fmt.Errorf("base-256 value overflows int64")
		}
		if inv == 0xff {
			return ^int64(x), nil //nolint:gosec // overflow checked above
		}
		return int64(x), nil //nolint:gosec // overflow checked above
	}

	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid octal %q", s)
	}
	return v, nil
}

// Mode bits beyond the permission bits.
const (
	modeSetuid = 0o4000
	modeSetgid = 0o2000
	modeSticky = 0o1000
)

// FileMode converts a header mode field into an fs.FileMode holding the
// permission, setuid, setgid and sticky bits.
func FileMode(mode int64) fs.FileMode {
	m := fs.FileMode(mode & 0o777) //nolint:gosec // masked to nine bits
	if mode&modeSetuid != 0 {
		m |= fs.ModeSetuid
	}
	if mode&modeSetgid != 0 {
		m |= fs.ModeSetgid
	}
	if mode&modeSticky != 0 {
		m |= fs.ModeSticky
	}
	return m
}

// ModeField is the inverse of FileMode.
func ModeField(m fs.FileMode) int64 {
	mode := int64(m.Perm())
	if m&fs.ModeSetuid != 0 {
		mode |= modeSetuid
	}
	if m&fs.ModeSetgid != 0 {
		mode |= modeSetgid
	}
	if m&fs.ModeSticky != 0 {
		mode |= modeSticky
	}
	return mode
}
