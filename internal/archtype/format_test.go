package archtype

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatAuto},
		{"auto", FormatAuto},
		{"GZIP", FormatGzip},
		{"gz", FormatGzip},
		{"zip", FormatZip},
		{"bz2", FormatBzip2},
		{" bzip2 ", FormatBzip2},
		{"xz", FormatXz},
		{"tar", FormatTar},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFormat("rar")
	require.Error(t, err)
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	for _, f := range []Format{FormatGzip, FormatZip, FormatBzip2, FormatXz, FormatTar} {
		parsed, err := ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	assert.Equal(t, "unknown(42)", Format(42).String())
}

func TestSingleStream(t *testing.T) {
	t.Parallel()

	assert.True(t, FormatGzip.SingleStream())
	assert.True(t, FormatBzip2.SingleStream())
	assert.True(t, FormatXz.SingleStream())
	assert.False(t, FormatZip.SingleStream())
	assert.False(t, FormatTar.SingleStream())
}

func TestIOErrorMatchesBoth(t *testing.T) {
	t.Parallel()

	err := error(&IOError{Op: OpWrite, Err: io.ErrShortWrite})
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, io.ErrShortWrite))
	assert.Contains(t, err.Error(), "write")

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, OpWrite, ioErr.Op)
}

func TestCorrupt(t *testing.T) {
	t.Parallel()

	err := Corrupt("bad %s", "crc")
	require.ErrorIs(t, err, ErrCorruptStream)
	assert.Contains(t, err.Error(), "bad crc")
}
