package codec

import (
	"compress/bzip2"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/meigma/retar/internal/archtype"
)

// Stream is the decompressed payload of a single-stream input.
type Stream struct {
	// Format is the codec the payload was decoded with.
	Format archtype.Format

	// NameHint is the original file name recorded by the encoder, if any.
	// Only GZIP carries one.
	NameHint string

	// ModTime is the modification time recorded by the encoder, or the
	// zero time when the format does not record one.
	ModTime time.Time

	r      io.Reader
	closer io.Closer
}

// Read reads decompressed bytes. Truncated or malformed input is reported
// as archtype.ErrCorruptStream once the bad region is reached.
func (s *Stream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Close releases decoder resources. It does not close the source.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenStream opens the single-stream codec f over src. Header errors are
// reported immediately; corruption inside the compressed body surfaces
// from Read.
func OpenStream(f archtype.Format, src Source) (*Stream, error) {
	switch f {
	case archtype.FormatGzip:
		return openGzip(src)
	case archtype.FormatBzip2:
		return &Stream{
			Format: f,
			r:      checkedReader{r: bzip2.NewReader(src), what: "bzip2"},
		}, nil
	case archtype.FormatXz:
		return openXz(src)
	default:
		return nil, fmt.Errorf("%s is not a single-stream format", f)
	}
}

// openGzip reads every concatenated member as one payload, as gzip(1) does.
func openGzip(src Source) (*Stream, error) {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return nil, headerErr(err, "gzip header")
	}
	zr.Multistream(true)
	return &Stream{
		Format:   archtype.FormatGzip,
		NameHint: zr.Name,
		ModTime:  zr.ModTime,
		r:        checkedReader{r: zr, what: "gzip"},
		closer:   zr,
	}, nil
}

func openXz(src Source) (*Stream, error) {
	xr, err := xz.NewReader(src)
	if err != nil {
		return nil, headerErr(err, "xz header")
	}
	return &Stream{
		Format: archtype.FormatXz,
		r:      checkedReader{r: xr, what: "xz"},
	}, nil
}
