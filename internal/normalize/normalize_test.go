package normalize

import (
	"archive/tar"
	"bufio"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/retar/internal/archtype"
)

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"a.txt", "a.txt"},
		{"dir/", "dir"},
		{"./a/./b", "a/b"},
		{"a//b///c", "a/b/c"},
		{`win\style\path.txt`, "win/style/path.txt"},
		{"..foo/bar..", "..foo/bar.."},
	}
	for _, tt := range tests {
		got, err := CleanName(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCleanName_Unsafe(t *testing.T) {
	t.Parallel()

	for _, name := range []string{
		"",
		"/etc/passwd",
		"../../etc/passwd",
		"a/../../b",
		"a/..",
		`..\evil`,
		`\\server\share`,
		"C:/Windows/system32",
		"c:evil",
		"nul\x00byte",
		"./",
		".",
	} {
		_, err := CleanName(name)
		require.ErrorIs(t, err, archtype.ErrUnsafePath, "%q", name)
	}
}

func TestSyntheticName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label, hint, want string
	}{
		{"logs/app.log.gz", "", "app.log"},
		{"archive.tgz", "", "archive.tar"},
		{"archive.TBZ2", "", "archive.tar"},
		{"dump.sql.bz2", "", "dump.sql"},
		{"image.raw.xz", "", "image.raw"},
		{"payload", "", "payload"},
		{"", "report.csv", "report.csv"},
		{"-", "/home/me/report.csv", "report.csv"},
		{"", "", "data"},
		{"-", "", "data"},
		{"..", "", "data"},
		{".gz", "", ".gz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SyntheticName(tt.label, tt.hint), "label=%q hint=%q", tt.label, tt.hint)
	}
}

func src(data []byte) *bufio.Reader {
	return bufio.NewReaderSize(bytes.NewReader(data), 64<<10)
}

func drain(t *testing.T, it *Iterator) ([]*archtype.Entry, []string, error) {
	t.Helper()
	var entries []*archtype.Entry
	var contents []string
	for {
		e, err := it.Next()
		if err == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
			return entries, contents, nil
		}
		if err != nil {
			return entries, contents, err
		}
		b, err := io.ReadAll(e.Content)
		if err != nil {
			return entries, contents, err
		}
		entries = append(entries, e)
		contents = append(contents, string(b))
	}
}

func tarOf(t *testing.T, hdrs ...*tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, h := range hdrs {
		if h.Typeflag == tar.TypeReg {
			h.Size = int64(len(h.Name))
		}
		require.NoError(t, tw.WriteHeader(h))
		if h.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(h.Name))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipOf(t *testing.T, name string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = name
	zw.ModTime = time.Unix(1_600_000_000, 0)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestOpen_TarPassthrough(t *testing.T) {
	t.Parallel()

	data := tarOf(t,
		&tar.Header{Name: "./", Typeflag: tar.TypeDir},
		&tar.Header{Name: "./pkg/", Typeflag: tar.TypeDir},
		&tar.Header{Name: "./pkg/main.go", Typeflag: tar.TypeReg},
		&tar.Header{Name: "./pkg/alias.go", Typeflag: tar.TypeLink, Linkname: "./pkg/main.go"},
		&tar.Header{Name: "up", Typeflag: tar.TypeSymlink, Linkname: "../outside"},
	)
	it, err := Open(archtype.FormatTar, src(data), "in.tar", Options{})
	require.NoError(t, err)
	defer it.Close()

	entries, contents, err := drain(t, it)
	require.NoError(t, err)
	require.Len(t, entries, 4, "root directory entry is dropped")
	assert.Equal(t, "pkg", entries[0].Name)
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, "pkg/main.go", entries[1].Name)
	assert.Equal(t, "./pkg/main.go", contents[1])
	assert.Equal(t, "pkg/main.go", entries[2].Linkname)
	// Symlink targets are data, not archive paths.
	assert.Equal(t, "../outside", entries[3].Linkname)
	assert.Equal(t, 4, it.Count())
	assert.Equal(t, archtype.FormatTar, it.Format())
}

func TestOpen_UnsafeNames(t *testing.T) {
	t.Parallel()

	zipWith := func(name string) []byte {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		return buf.Bytes()
	}

	tests := []struct {
		name   string
		format archtype.Format
		data   []byte
	}{
		{"zip traversal", archtype.FormatZip, zipWith("../../etc/passwd")},
		{"zip absolute", archtype.FormatZip, zipWith("/etc/passwd")},
		{"tar traversal", archtype.FormatTar, tarOf(t, &tar.Header{Name: "../../etc/passwd", Typeflag: tar.TypeReg})},
		{"tar absolute", archtype.FormatTar, tarOf(t, &tar.Header{Name: "/etc/passwd", Typeflag: tar.TypeReg})},
		{"tar hardlink escape", archtype.FormatTar, tarOf(t, &tar.Header{Name: "ok", Typeflag: tar.TypeLink, Linkname: "../../etc/shadow"})},
		{"nested tar traversal", archtype.FormatGzip, gzipOf(t, "", tarOf(t, &tar.Header{Name: "../x", Typeflag: tar.TypeReg}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			it, err := Open(tt.format, src(tt.data), "in", Options{NestedTar: true})
			require.NoError(t, err)
			defer it.Close()
			_, _, err = drain(t, it)
			require.ErrorIs(t, err, archtype.ErrUnsafePath)
		})
	}
}

func TestOpen_SingleStream(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("line\n"), 1000)
	it, err := Open(archtype.FormatGzip, src(gzipOf(t, "orig.log", payload)), "dir/app.log.gz", Options{})
	require.NoError(t, err)
	defer it.Close()

	entries, contents, err := drain(t, it)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "app.log", e.Name)
	assert.Equal(t, archtype.SizeUnknown, e.Size)
	assert.Equal(t, archtype.KindRegular, e.Kind)
	assert.True(t, e.ModTime.Equal(time.Unix(1_600_000_000, 0)))
	assert.Equal(t, string(payload), contents[0])
	assert.False(t, it.Nested())
}

func TestOpen_NestedTar(t *testing.T) {
	t.Parallel()

	inner := tarOf(t,
		&tar.Header{Name: "a.txt", Typeflag: tar.TypeReg},
		&tar.Header{Name: "b/c.txt", Typeflag: tar.TypeReg},
	)
	data := gzipOf(t, "", inner)

	t.Run("unwrapped", func(t *testing.T) {
		t.Parallel()

		it, err := Open(archtype.FormatGzip, src(data), "bundle.tar.gz", Options{NestedTar: true})
		require.NoError(t, err)
		defer it.Close()
		entries, contents, err := drain(t, it)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.True(t, it.Nested())
		assert.Equal(t, "a.txt", entries[0].Name)
		assert.Equal(t, "b/c.txt", contents[1])
	})

	t.Run("kept whole", func(t *testing.T) {
		t.Parallel()

		it, err := Open(archtype.FormatGzip, src(data), "bundle.tar.gz", Options{})
		require.NoError(t, err)
		defer it.Close()
		entries, contents, err := drain(t, it)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "bundle.tar", entries[0].Name)
		assert.Equal(t, string(inner), contents[0])
	})

	t.Run("not a tar", func(t *testing.T) {
		t.Parallel()

		payload := bytes.Repeat([]byte("plain"), 500)
		it, err := Open(archtype.FormatGzip, src(gzipOf(t, "", payload)), "p.gz", Options{NestedTar: true})
		require.NoError(t, err)
		defer it.Close()
		entries, contents, err := drain(t, it)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.False(t, it.Nested())
		assert.Equal(t, string(payload), contents[0], "peeked bytes are replayed")
	})
}

func TestOpen_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := Open(archtype.FormatAuto, src(nil), "x", Options{})
	require.ErrorIs(t, err, archtype.ErrUnknownFormat)
}
