package codec

import (
	"archive/tar"
	"bytes"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/tarhdr"
)

type tarMember struct {
	hdr     tar.Header
	content string
}

func tarBytes(t *testing.T, members ...tarMember) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := m.hdr
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.content))
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		if m.content != "" {
			_, err := tw.Write([]byte(m.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestTar_Kinds(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1_650_000_000, 0)
	data := tarBytes(t,
		tarMember{hdr: tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime}},
		tarMember{hdr: tar.Header{Name: "dir/file.txt", Typeflag: tar.TypeReg, Mode: 0o4750, Uid: 1000, Gid: 50, Uname: "alice", Gname: "staff", ModTime: mtime}, content: "file content"},
		tarMember{hdr: tar.Header{Name: "dir/link", Typeflag: tar.TypeSymlink, Linkname: "file.txt", ModTime: mtime}},
		tarMember{hdr: tar.Header{Name: "dir/hard", Typeflag: tar.TypeLink, Linkname: "dir/file.txt", ModTime: mtime}},
		tarMember{hdr: tar.Header{Name: "dev/null", Typeflag: tar.TypeChar, Devmajor: 1, Devminor: 3, ModTime: mtime}},
		tarMember{hdr: tar.Header{Name: "pipe", Typeflag: tar.TypeFifo, ModTime: mtime}},
		tarMember{hdr: tar.Header{Name: "last.txt", Typeflag: tar.TypeReg, Mode: 0o644, ModTime: mtime}, content: "z"},
	)

	d := NewTar(source(data), Options{})
	defer d.Close()

	var got []*archtype.Entry
	var contents []string
	for {
		e, err := d.Next()
		if err == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(e.Content)
		require.NoError(t, err)
		got = append(got, e)
		contents = append(contents, string(b))
	}

	require.Len(t, got, 5, "device and fifo members are skipped")

	assert.Equal(t, "dir/", got[0].Name)
	assert.Equal(t, archtype.KindDir, got[0].Kind)
	assert.Equal(t, fs.FileMode(0o755), got[0].Mode)

	assert.Equal(t, "dir/file.txt", got[1].Name)
	assert.Equal(t, archtype.KindRegular, got[1].Kind)
	assert.Equal(t, int64(12), got[1].Size)
	assert.Equal(t, "file content", contents[1])
	assert.Equal(t, fs.FileMode(0o750)|fs.ModeSetuid, got[1].Mode)
	assert.Equal(t, 1000, got[1].UID)
	assert.Equal(t, 50, got[1].GID)
	assert.Equal(t, "alice", got[1].Uname)
	assert.Equal(t, "staff", got[1].Gname)
	assert.True(t, got[1].ModTime.Equal(mtime))

	assert.Equal(t, archtype.KindSymlink, got[2].Kind)
	assert.Equal(t, "file.txt", got[2].Linkname)
	assert.Equal(t, archtype.KindHardlink, got[3].Kind)
	assert.Equal(t, "dir/file.txt", got[3].Linkname)

	assert.Equal(t, "last.txt", got[4].Name)
	assert.Equal(t, "z", contents[4])
}

func TestTar_LongNames(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("deep/", 60) + "file.txt"
	longLink := strings.Repeat("t", 150)
	nanos := time.Unix(1_700_000_000, 250_000_000)

	tests := []struct {
		name   string
		format tar.Format
	}{
		{"pax", tar.FormatPAX},
		{"gnu", tar.FormatGNU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hdr := tar.Header{Name: long, Typeflag: tar.TypeReg, Mode: 0o644, ModTime: time.Unix(1_700_000_000, 0), Format: tt.format}
			link := tar.Header{Name: "l", Typeflag: tar.TypeSymlink, Linkname: longLink, ModTime: time.Unix(1, 0), Format: tt.format}
			if tt.format == tar.FormatPAX {
				hdr.ModTime = nanos
			}
			data := tarBytes(t, tarMember{hdr: hdr, content: "long"}, tarMember{hdr: link})

			d := NewTar(source(data), Options{})
			e, err := d.Next()
			require.NoError(t, err)
			assert.Equal(t, long, e.Name)
			assert.True(t, e.ModTime.Equal(hdr.ModTime), "got %v want %v", e.ModTime, hdr.ModTime)
			b, err := io.ReadAll(e.Content)
			require.NoError(t, err)
			assert.Equal(t, "long", string(b))

			e, err = d.Next()
			require.NoError(t, err)
			assert.Equal(t, "l", e.Name)
			assert.Equal(t, longLink, e.Linkname)

			_, err = d.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestTar_SkipsUnreadContent(t *testing.T) {
	t.Parallel()

	data := tarBytes(t,
		tarMember{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg}, content: strings.Repeat("a", 1000)},
		tarMember{hdr: tar.Header{Name: "b", Typeflag: tar.TypeReg}, content: "bee"},
	)
	d := NewTar(source(data), Options{})

	e, err := d.Next()
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = io.ReadFull(e.Content, buf)
	require.NoError(t, err)

	e, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", e.Name)
	b, err := io.ReadAll(e.Content)
	require.NoError(t, err)
	assert.Equal(t, "bee", string(b))
}

func TestTar_EndWithoutMarker(t *testing.T) {
	t.Parallel()

	full := tarBytes(t, tarMember{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg}, content: "x"})
	// Header plus one content block, no zero blocks.
	got, err := collect(t, NewTar(source(full[:2*tarhdr.BlockSize]), Options{}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].content)
}

func TestTar_Empty(t *testing.T) {
	t.Parallel()

	got, err := collect(t, NewTar(source(make([]byte, 10*tarhdr.BlockSize)), Options{}))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTar_Errors(t *testing.T) {
	t.Parallel()

	full := tarBytes(t, tarMember{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg}, content: strings.Repeat("x", 2000)})

	badSum := bytes.Clone(full)
	badSum[0] = 'b'

	sparse, err := (&tarhdr.Header{Name: "s", Typeflag: tarhdr.TypeGNUSparse, ModTime: time.Unix(1, 0)}).Encode()
	require.NoError(t, err)

	paxSparse := sparsePAXMember(t)

	orphanPax := tarBytes(t, tarMember{hdr: tar.Header{Name: strings.Repeat("p", 120), Typeflag: tar.TypeReg, Format: tar.FormatPAX}, content: "x"})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated content", full[:tarhdr.BlockSize+700], archtype.ErrCorruptStream},
		{"truncated header", full[:100], archtype.ErrCorruptStream},
		{"truncated padding", full[:tarhdr.BlockSize+2000+10], archtype.ErrCorruptStream},
		{"checksum mismatch", badSum, archtype.ErrCorruptStream},
		{"sparse", append(sparse[:], make([]byte, 2*tarhdr.BlockSize)...), archtype.ErrUnsupportedEntry},
		{"pax sparse", paxSparse, archtype.ErrUnsupportedEntry},
		{"pax header without member", orphanPax[:2*tarhdr.BlockSize], archtype.ErrCorruptStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := collect(t, NewTar(source(tt.data), Options{}))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// sparsePAXMember builds the layout "tar --sparse --format=posix" writes:
// an x header with GNU.sparse records followed by a regular member holding
// the sparse map and the data fragments.
func sparsePAXMember(t *testing.T) []byte {
	t.Helper()
	var recs bytes.Buffer
	for _, kv := range []string{"GNU.sparse.major=1", "GNU.sparse.minor=0", "GNU.sparse.name=real.bin", "GNU.sparse.realsize=4096"} {
		rec := " " + kv + "\n"
		n := len(rec)
		n += len(strconv.Itoa(n + len(strconv.Itoa(n))))
		recs.WriteString(strconv.Itoa(n) + rec)
	}
	body := strings.Repeat("s", 517)

	var out bytes.Buffer
	write := func(h *tarhdr.Header, data []byte) {
		b, err := h.Encode()
		require.NoError(t, err)
		out.Write(b[:])
		out.Write(data)
		out.Write(make([]byte, (tarhdr.BlockSize-len(data)%tarhdr.BlockSize)%tarhdr.BlockSize))
	}
	write(&tarhdr.Header{Name: "PaxHeaders/real.bin", Typeflag: tarhdr.TypeXHeader, Size: int64(recs.Len()), ModTime: time.Unix(1, 0)}, recs.Bytes())
	write(&tarhdr.Header{Name: "GNUSparseFile.0/real.bin", Typeflag: tarhdr.TypeReg, Mode: 0o644, Size: int64(len(body)), ModTime: time.Unix(1, 0)}, []byte(body))
	out.Write(make([]byte, 2*tarhdr.BlockSize))
	return out.Bytes()
}

func TestParsePAX(t *testing.T) {
	t.Parallel()

	recs, err := parsePAX([]byte("12 path=a/b\n12 uid=1234\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"path": "a/b", "uid": "1234"}, recs)

	for _, bad := range []string{"x path=a\n", "99 path=a\n", "11 path=ab\t", "7 path\n"} {
		_, err := parsePAX([]byte(bad), nil)
		require.ErrorIs(t, err, archtype.ErrCorruptStream, "%q", bad)
	}
}

func TestParsePAXTime(t *testing.T) {
	t.Parallel()

	got, err := parsePAXTime("1700000000.5")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_000, 500_000_000), got)

	got, err = parsePAXTime("42")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(42, 0), got)

	_, err = parsePAXTime("soon")
	require.Error(t, err)
}
