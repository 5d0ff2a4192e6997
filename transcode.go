package retar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/meigma/retar/internal/codec"
	"github.com/meigma/retar/internal/detect"
	"github.com/meigma/retar/internal/normalize"
	"github.com/meigma/retar/internal/stream"
	"github.com/meigma/retar/internal/tarenc"
)

// Input is one source of a transcode job.
type Input struct {
	// Name identifies the input in errors, logs and the report. For GZIP,
	// BZIP2 and XZ inputs it also names the output entry ("logs.txt.gz"
	// becomes "logs.txt").
	Name string

	// Format is the declared format, or FormatAuto to detect it. A declared
	// format is still checked against the leading bytes.
	Format Format

	// Source supplies the input bytes. It is read to the end and never closed.
	Source io.Reader
}

// Transcoder converts archives and compressed streams into one TAR stream.
// A Transcoder holds configuration only and may run several jobs, also
// concurrently.
type Transcoder struct {
	blockSize        int
	logger           *slog.Logger
	progress         ProgressFunc
	spillMemory      int64
	spillDir         string
	maxSpill         int64
	nestedTar        bool
	readAhead        int
	digests          bool
	clock            func() time.Time
	maxDecoderMemory uint64
	lowMemory        bool

	zstdPool *codec.DecompressPool
}

// NewTranscoder creates a Transcoder with the given options.
func NewTranscoder(opts ...Option) (*Transcoder, error) {
	t := &Transcoder{blockSize: DefaultBlockSize}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	t.zstdPool = codec.NewDecompressPool(t.maxDecoderMemory, codec.WithLowmem(t.lowMemory))
	return t, nil
}

// Transcode runs a job with a Transcoder built from opts.
func Transcode(ctx context.Context, dst io.Writer, inputs []Input, opts ...Option) (*Report, error) {
	t, err := NewTranscoder(opts...)
	if err != nil {
		return nil, err
	}
	return t.Transcode(ctx, dst, inputs)
}

func (t *Transcoder) log() *slog.Logger {
	if t.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.logger
}

func (t *Transcoder) emit(event ProgressEvent) {
	if t.progress != nil {
		t.progress(event)
	}
}

// Transcode writes every entry of every input to dst as one TAR stream,
// inputs in the order given and entries in the order they are stored.
//
// The job is all or nothing. On success the end-of-archive marker has
// been written and dst flushed if it implements Flush() error. On failure
// the returned error is an *Error and the bytes already written to dst are
// an incomplete archive that must be discarded. The context is checked
// between entries; an entry in progress is always completed or failed
// first. dst is never closed.
func (t *Transcoder) Transcode(ctx context.Context, dst io.Writer, inputs []Input) (*Report, error) {
	sink := stream.NewSink(dst, t.blockSize)
	pool := stream.NewBufferPool(t.blockSize)
	enc := tarenc.New(sink, tarenc.Options{
		Logger:        t.logger,
		Pool:          pool,
		ReadAhead:     t.readAhead,
		SpillMemory:   t.spillMemory,
		SpillDir:      t.spillDir,
		MaxSpillBytes: t.maxSpill,
		Digests:       t.digests,
		Clock:         t.clock,
	})

	j := &job{t: t, enc: enc, sink: sink, total: len(inputs), report: &Report{}}
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return j.report, &Error{Index: i, Input: in.Name, Offset: -1, Err: err}
		}
		if err := j.input(ctx, i, in); err != nil {
			return j.report, err
		}
	}

	t.emit(ProgressEvent{
		Stage:        StageFinishing,
		InputIndex:   -1,
		BytesWritten: sink.Written(),
		EntriesDone:  len(j.report.Entries),
		InputsTotal:  j.total,
	})
	if err := enc.Finish(); err != nil {
		return j.report, &Error{Index: -1, Offset: -1, Err: err}
	}
	j.report.BytesWritten = sink.Written()
	t.log().Info("transcode complete",
		"inputs", len(inputs),
		"entries", len(j.report.Entries),
		"bytes", j.report.BytesWritten)
	return j.report, nil
}

// job is the state of one Transcode call.
type job struct {
	t      *Transcoder
	enc    *tarenc.Encoder
	sink   *stream.Sink
	total  int
	report *Report
}

func (j *job) input(ctx context.Context, index int, in Input) error {
	t := j.t
	src := stream.NewSource(in.Source, t.blockSize)
	fail := func(entry string, err error) error {
		return &Error{Index: index, Input: in.Name, Entry: entry, Offset: src.Offset(), Err: err}
	}

	t.emit(ProgressEvent{Stage: StageDetecting, Input: in.Name, InputIndex: index, InputsTotal: j.total,
		BytesWritten: j.sink.Written(), EntriesDone: len(j.report.Entries)})
	format, err := detect.Detect(src, in.Format)
	if err != nil {
		return fail("", err)
	}
	t.log().Info("transcoding input", "input", in.Name, "index", index, "format", format, "declared", in.Format)

	it, err := normalize.Open(format, src, in.Name, normalize.Options{
		Logger:     t.logger,
		NestedTar:  t.nestedTar,
		BufferSize: t.blockSize,
		Codec:      codec.Options{Logger: t.logger, Pool: t.zstdPool},
	})
	if err != nil {
		return fail("", err)
	}
	defer func() {
		if err := it.Close(); err != nil {
			t.log().Warn("closing decoder", "input", in.Name, "error", err)
		}
	}()

	t.emit(ProgressEvent{Stage: StageDecoding, Input: in.Name, InputIndex: index, InputsTotal: j.total,
		BytesWritten: j.sink.Written(), EntriesDone: len(j.report.Entries)})

	for {
		if err := ctx.Err(); err != nil {
			return fail("", err)
		}
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail("", err)
		}

		res, err := j.enc.WriteEntry(e)
		if err != nil {
			return fail(e.Name, err)
		}
		j.report.Entries = append(j.report.Entries, EntryReport{
			Input:   index,
			Name:    res.Name,
			Kind:    res.Kind,
			Size:    res.Size,
			Digest:  res.Digest,
			Spilled: res.Spilled,
		})
		t.emit(ProgressEvent{Stage: StageWriting, Input: in.Name, InputIndex: index, InputsTotal: j.total,
			Entry: res.Name, BytesWritten: j.sink.Written(), EntriesDone: len(j.report.Entries)})
	}

	j.report.Inputs = append(j.report.Inputs, InputReport{
		Name:      in.Name,
		Format:    format,
		Nested:    it.Nested(),
		Entries:   it.Count(),
		BytesRead: src.Offset(),
	})
	t.log().Info("input done", "input", in.Name, "entries", it.Count(), "bytes_read", src.Offset())
	return nil
}
