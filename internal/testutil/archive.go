package testutil

import (
	"archive/tar"
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// FixtureTime is the modification time of generated TAR members.
var FixtureTime = time.Unix(1_600_000_000, 0)

// File describes one member of a generated archive.
type File struct {
	Name    string
	Content string
	Dir     bool
}

// Tar returns a TAR archive holding files in order.
func Tar(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		h := &tar.Header{
			Name:     f.Name,
			Mode:     0o644,
			Size:     int64(len(f.Content)),
			Typeflag: tar.TypeReg,
			ModTime:  FixtureTime,
		}
		if f.Dir {
			h.Typeflag = tar.TypeDir
			h.Mode = 0o755
			h.Size = 0
		}
		require.NoError(t, tw.WriteHeader(h))
		if !f.Dir {
			_, err := tw.Write([]byte(f.Content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

// Zip returns a ZIP archive holding files in order. Files are deflated
// with trailing data descriptors; directories are stored.
func Zip(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		name := f.Name
		if f.Dir {
			name += "/"
		}
		w, err := zw.Create(name)
		require.NoError(t, err)
		if !f.Dir {
			_, err = w.Write([]byte(f.Content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// ZstdZip returns a ZIP holding one zstd entry (method 93) whose sizes are
// in the local header.
func ZstdZip(t testing.TB, name string, content []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(content, nil)
	require.NoError(t, enc.Close())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             zstd.ZipMethodWinZip,
		CRC32:              crc32.ChecksumIEEE(content),
		CompressedSize64:   uint64(len(compressed)),
		UncompressedSize64: uint64(len(content)),
	})
	require.NoError(t, err)
	_, err = w.Write(compressed)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Gzip compresses payload as a single GZIP member.
func Gzip(t testing.TB, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Xz compresses payload as an XZ stream.
func Xz(t testing.TB, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// Bzip2Hello is the content of the checked-in BZIP2 fixture.
const Bzip2Hello = "hello from bzip2\n"

// Bzip2 returns the checked-in BZIP2 fixture holding Bzip2Hello.
func Bzip2(t testing.TB) []byte {
	t.Helper()
	_, self, _, ok := runtime.Caller(0)
	require.True(t, ok)
	data, err := os.ReadFile(filepath.Join(filepath.Dir(self), "..", "codec", "testdata", "hello.txt.bz2"))
	require.NoError(t, err)
	return data
}
