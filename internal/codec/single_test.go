package codec

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/meigma/retar/internal/archtype"
)

func source(data []byte) Source {
	return bufio.NewReaderSize(bytes.NewReader(data), 64<<10)
}

func gzipBytes(t *testing.T, name string, mtime time.Time, payloads ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range payloads {
		zw := gzip.NewWriter(&buf)
		zw.Name = name
		zw.ModTime = mtime
		_, err := zw.Write([]byte(p))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	}
	return buf.Bytes()
}

func xzBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func readStream(t *testing.T, f archtype.Format, data []byte) (*Stream, []byte, error) {
	t.Helper()
	s, err := OpenStream(f, source(data))
	if err != nil {
		return nil, nil, err
	}
	defer s.Close()
	out, err := io.ReadAll(s)
	return s, out, err
}

func TestOpenStream_Gzip(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1_700_000_000, 0)
	s, out, err := readStream(t, archtype.FormatGzip, gzipBytes(t, "notes.txt", mtime, "hello gzip"))
	require.NoError(t, err)
	assert.Equal(t, "hello gzip", string(out))
	assert.Equal(t, "notes.txt", s.NameHint)
	assert.True(t, s.ModTime.Equal(mtime))
	assert.Equal(t, archtype.FormatGzip, s.Format)
}

func TestOpenStream_GzipMultistream(t *testing.T) {
	t.Parallel()

	_, out, err := readStream(t, archtype.FormatGzip, gzipBytes(t, "", time.Time{}, "one,", "two,", "three"))
	require.NoError(t, err)
	assert.Equal(t, "one,two,three", string(out))
}

func TestOpenStream_Bzip2(t *testing.T) {
	t.Parallel()

	data, err := os.ReadFile("testdata/hello.txt.bz2")
	require.NoError(t, err)
	s, out, err := readStream(t, archtype.FormatBzip2, data)
	require.NoError(t, err)
	assert.Equal(t, "hello from bzip2\n", string(out))
	assert.True(t, s.ModTime.IsZero())
	assert.Empty(t, s.NameHint)

	data, err = os.ReadFile("testdata/concat.bz2")
	require.NoError(t, err)
	_, out, err = readStream(t, archtype.FormatBzip2, data)
	require.NoError(t, err)
	assert.Equal(t, "part one\npart two\n", string(out))
}

func TestOpenStream_Xz(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("xz payload "), 1000)
	_, out, err := readStream(t, archtype.FormatXz, xzBytes(t, payload))
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestOpenStream_Truncated(t *testing.T) {
	t.Parallel()

	bz, err := os.ReadFile("testdata/hello.txt.bz2")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)

	tests := []struct {
		name   string
		format archtype.Format
		data   []byte
	}{
		{"gzip", archtype.FormatGzip, gzipBytes(t, "", time.Time{}, string(payload))},
		{"bzip2", archtype.FormatBzip2, bz},
		{"xz", archtype.FormatXz, xzBytes(t, payload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cut := tt.data[:len(tt.data)*2/3]
			_, _, err := readStream(t, tt.format, cut)
			require.ErrorIs(t, err, archtype.ErrCorruptStream)
		})
	}
}

func TestOpenStream_BadHeader(t *testing.T) {
	t.Parallel()

	_, err := OpenStream(archtype.FormatGzip, source([]byte{0x1f, 0x8b}))
	require.ErrorIs(t, err, archtype.ErrCorruptStream)

	_, err = OpenStream(archtype.FormatXz, source([]byte{0xfd, '7', 'z', 'X', 'Z', 0x00, 0xff}))
	require.ErrorIs(t, err, archtype.ErrCorruptStream)

	_, err = OpenStream(archtype.FormatZip, source(nil))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, io.EOF, classify(io.EOF, "x"))
	require.NoError(t, classify(nil, "x"))
	require.ErrorIs(t, classify(io.ErrUnexpectedEOF, "x"), archtype.ErrCorruptStream)
	require.ErrorIs(t, classify(assert.AnError, "x"), archtype.ErrCorruptStream)
	require.ErrorIs(t, classify(assert.AnError, "x"), assert.AnError)

	ioErr := &archtype.IOError{Op: archtype.OpRead, Err: assert.AnError}
	err := classify(ioErr, "x")
	require.ErrorIs(t, err, archtype.ErrIO)
	require.NotErrorIs(t, err, archtype.ErrCorruptStream)

	require.ErrorIs(t, headerErr(io.EOF, "x"), archtype.ErrCorruptStream)
}
