// Package normalize turns any decoder's output into a uniform entry stream.
//
// Multi-entry containers pass through with their names validated and
// canonicalized. Single-stream codecs are presented as one synthetic
// entry bound lazily to the decompressed payload, or, when nested TAR
// unwrapping is enabled and the payload is itself a TAR, as that TAR's
// entries.
package normalize

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/meigma/retar/internal/archtype"
	"github.com/meigma/retar/internal/codec"
	"github.com/meigma/retar/internal/detect"
)

// Options configures an Iterator.
type Options struct {
	// Logger receives per-entry debug events. Nil disables logging.
	Logger *slog.Logger

	// NestedTar unwraps single-stream payloads that hold a TAR archive.
	NestedTar bool

	// BufferSize sizes the read buffer over a nested TAR payload.
	BufferSize int

	// Codec is passed to the underlying decoders.
	Codec codec.Options
}

func (o Options) log() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Iterator yields normalized entries of one input.
type Iterator struct {
	format archtype.Format
	label  string
	opts   Options

	dec     codec.Decoder
	stream  *codec.Stream
	payload io.Reader
	nested  bool

	singleDone bool
	count      int
}

// Open starts decoding src as format. label identifies the input and
// names the synthetic entry of single-stream codecs.
func Open(format archtype.Format, src codec.Source, label string, opts Options) (*Iterator, error) {
	it := &Iterator{format: format, label: label, opts: opts}

	switch format {
	case archtype.FormatZip:
		it.dec = codec.NewZip(src, opts.Codec)
	case archtype.FormatTar:
		it.dec = codec.NewTar(src, opts.Codec)
	case archtype.FormatGzip, archtype.FormatBzip2, archtype.FormatXz:
		s, err := codec.OpenStream(format, src)
		if err != nil {
			return nil, err
		}
		it.stream = s
		it.payload = s
		if opts.NestedTar {
			if err := it.unwrap(); err != nil {
				_ = s.Close() //nolint:errcheck // already failing
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: cannot open %s", archtype.ErrUnknownFormat, format)
	}
	return it, nil
}

// unwrap switches to TAR decoding when the payload starts with a TAR header.
func (it *Iterator) unwrap() error {
	size := max(it.opts.BufferSize, detect.PeekSize)
	br := bufio.NewReaderSize(it.stream, size)
	head, err := br.Peek(detect.PeekSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if !detect.IsTar(head) {
		it.payload = br
		return nil
	}
	it.nested = true
	it.dec = codec.NewTar(br, it.opts.Codec)
	it.opts.log().Debug("unwrapping nested tar", "input", it.label, "codec", it.format)
	return nil
}

// Format returns the input's format.
func (it *Iterator) Format() archtype.Format { return it.format }

// Nested reports whether a single-stream payload is being read as TAR.
func (it *Iterator) Nested() bool { return it.nested }

// Next returns the next normalized entry or io.EOF.
func (it *Iterator) Next() (*archtype.Entry, error) {
	if it.dec == nil {
		return it.nextSingle()
	}
	for {
		e, err := it.dec.Next()
		if err != nil {
			return nil, err
		}
		if e.Kind == archtype.KindDir && isRoot(e.Name) {
			it.opts.log().Debug("skipping root directory entry", "input", it.label, "name", e.Name)
			continue
		}
		if err := normalizeEntry(e); err != nil {
			return nil, err
		}
		it.count++
		it.opts.log().Debug("decoded entry", "input", it.label, "entry", e.Name, "kind", e.Kind, "size", e.Size)
		return e, nil
	}
}

func (it *Iterator) nextSingle() (*archtype.Entry, error) {
	if it.singleDone {
		return nil, io.EOF
	}
	it.singleDone = true

	name, err := CleanName(SyntheticName(it.label, it.stream.NameHint))
	if err != nil {
		return nil, err
	}
	it.count++
	e := &archtype.Entry{
		Name:    name,
		Size:    archtype.SizeUnknown,
		ModTime: it.stream.ModTime,
		Kind:    archtype.KindRegular,
		Content: it.payload,
	}
	it.opts.log().Debug("synthesized entry", "input", it.label, "entry", name, "codec", it.format)
	return e, nil
}

// Count returns the number of entries returned so far.
func (it *Iterator) Count() int { return it.count }

// Close releases decoder resources. It does not close the input source.
func (it *Iterator) Close() error {
	var errs []error
	if it.dec != nil {
		errs = append(errs, it.dec.Close())
	}
	if it.stream != nil {
		errs = append(errs, it.stream.Close())
	}
	return errors.Join(errs...)
}

// normalizeEntry validates and canonicalizes names in place.
func normalizeEntry(e *archtype.Entry) error {
	name, err := CleanName(e.Name)
	if err != nil {
		return err
	}
	e.Name = name

	switch e.Kind {
	case archtype.KindHardlink:
		// Hardlink targets are archive paths and are held to the same rules.
		target, err := CleanName(e.Linkname)
		if err != nil {
			return fmt.Errorf("hardlink %q: %w", name, err)
		}
		e.Linkname = target
	case archtype.KindSymlink:
		if e.Linkname == "" {
			return archtype.Corrupt("symlink %q has no target", name)
		}
	case archtype.KindDir:
		e.Size = 0
	case archtype.KindRegular:
	}
	return nil
}
