// retar converts GZIP, ZIP, BZIP2, XZ and TAR inputs into one TAR archive.
//
// Usage:
//
//	retar [flags] SRC... DST
//	retar [flags] --job job.yaml
//
// "-" reads a source from stdin or writes the archive to stdout. A file
// destination is written under a temporary name and renamed once the
// archive is complete, so a failed run never leaves a plausible-looking
// TAR behind.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meigma/retar"
)

// stdio names stdin as a source and stdout as a destination.
const stdio = "-"

// Set with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// usageError marks a bad invocation.
type usageError struct {
	err error
}

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
func (e *usageError) ExitCode() int { return exitUsage }

func exitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitFailure
}

type flags struct {
	types     []string
	blockSize int
	force     bool
	verbose   int
	logFormat string
	unwrap    bool
	digest    bool
	job       string
	spillDir  string
	maxSpill  int64
	readAhead int
	maxZstd   uint64
	lowMemory bool
	version   bool
}

func newFlagSet(f *flags, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("retar", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringSliceVarP(&f.types, "type", "t", nil, "input formats in source order (gzip, zip, bzip2, xz, tar, auto)")
	fs.IntVarP(&f.blockSize, "block-size", "b", retar.DefaultBlockSize, "read and write chunk size in bytes")
	fs.BoolVarP(&f.force, "force", "f", false, "replace an existing destination")
	fs.CountVarP(&f.verbose, "verbose", "v", "log progress (-v) or every entry (-vv)")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	fs.BoolVar(&f.unwrap, "unwrap", false, "emit the entries of compressed TAR payloads (.tar.gz and similar)")
	fs.BoolVar(&f.digest, "digest", false, "print a sha256 digest for every regular file")
	fs.StringVar(&f.job, "job", "", "read sources and settings from a YAML manifest")
	fs.StringVar(&f.spillDir, "spill-dir", "", "directory for temporary files of entries with unknown size")
	fs.Int64Var(&f.maxSpill, "max-spill", 0, "fail when one entry of unknown size exceeds this many bytes (0: no limit)")
	fs.IntVar(&f.readAhead, "read-ahead", 0, "blocks decoded ahead of the writer (0: synchronous)")
	fs.Uint64Var(&f.maxZstd, "max-decoder-memory", 0, "memory limit in bytes for zstd ZIP entries (0: library default)")
	fs.BoolVar(&f.lowMemory, "low-memory", false, "use smaller zstd decoder buffers")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: retar [flags] SRC... DST\n       retar [flags] --job job.yaml\n\nFlags:\n%s", fs.FlagUsages())
	}
	return fs
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var f flags
	fs := newFlagSet(&f, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &usageError{err: err}
	}
	if f.version {
		fmt.Fprintf(stdout, "retar %s\n", version)
		return nil
	}

	logger, err := newLogger(stderr, f.verbose, f.logFormat)
	if err != nil {
		return err
	}

	p, err := makePlan(fs, &f)
	if err != nil {
		return err
	}
	return execute(ctx, p, logger, stdin, stdout, stderr)
}

func newLogger(w io.Writer, verbose int, format string) (*slog.Logger, error) {
	level := slog.LevelWarn
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, usagef("unknown log format %q", format)
	}
}

// plan is a fully resolved invocation.
type plan struct {
	inputs    []planInput
	output    string
	force     bool
	blockSize int
	unwrap    bool
	digest    bool
	spillDir  string
	maxSpill  int64
	readAhead int
	maxZstd   uint64
	lowMemory bool
}

type planInput struct {
	path   string
	name   string
	format retar.Format
}

// makePlan combines positional arguments or a job manifest with flags.
// Flags given on the command line win over manifest settings.
func makePlan(fs *pflag.FlagSet, f *flags) (*plan, error) {
	p := &plan{
		force:     f.force,
		blockSize: f.blockSize,
		unwrap:    f.unwrap,
		digest:    f.digest,
		spillDir:  f.spillDir,
		maxSpill:  f.maxSpill,
		readAhead: f.readAhead,
		maxZstd:   f.maxZstd,
		lowMemory: f.lowMemory,
	}

	if f.job != "" {
		if fs.NArg() > 0 || fs.Changed("type") {
			return nil, usagef("--job cannot be combined with sources or --type")
		}
		job, err := LoadJob(f.job)
		if err != nil {
			return nil, &usageError{err: err}
		}
		p.output = job.Output
		p.force = p.force || job.Force
		p.unwrap = p.unwrap || job.Unwrap
		p.digest = p.digest || job.Digest
		if job.BlockSize > 0 && !fs.Changed("block-size") {
			p.blockSize = job.BlockSize
		}
		if job.SpillDir != "" && !fs.Changed("spill-dir") {
			p.spillDir = job.SpillDir
		}
		if job.MaxSpill > 0 && !fs.Changed("max-spill") {
			p.maxSpill = job.MaxSpill
		}
		for _, in := range job.Inputs {
			format, err := retar.ParseFormat(in.Type)
			if err != nil {
				return nil, &usageError{err: err}
			}
			p.inputs = append(p.inputs, planInput{path: in.Path, name: in.Name, format: format})
		}
	} else {
		args := fs.Args()
		if len(args) < 2 {
			return nil, usagef("expected at least one SRC and a DST")
		}
		srcs, dst := args[:len(args)-1], args[len(args)-1]
		formats, err := pairTypes(f.types, len(srcs))
		if err != nil {
			return nil, err
		}
		p.output = dst
		for i, src := range srcs {
			p.inputs = append(p.inputs, planInput{path: src, name: src, format: formats[i]})
		}
	}

	if p.blockSize <= 0 {
		return nil, usagef("block size must be positive, got %d", p.blockSize)
	}
	if p.readAhead < 0 || p.maxSpill < 0 {
		return nil, usagef("--read-ahead and --max-spill must not be negative")
	}
	stdins := 0
	for _, in := range p.inputs {
		if in.path == stdio {
			stdins++
		} else if p.output != stdio && filepath.Clean(in.path) == filepath.Clean(p.output) {
			return nil, usagef("source %s is also the destination", in.path)
		}
	}
	if stdins > 1 {
		return nil, usagef("stdin can be read only once")
	}
	return p, nil
}

// pairTypes matches type names to sources by position. Either no types are
// given or exactly one per source; "auto" keeps detection for a source.
func pairTypes(types []string, sources int) ([]retar.Format, error) {
	formats := make([]retar.Format, sources)
	if len(types) == 0 {
		return formats, nil
	}
	if len(types) != sources {
		return nil, usagef("got %d types for %d sources; give one per source (use auto to detect)", len(types), sources)
	}
	for i, name := range types {
		f, err := retar.ParseFormat(name)
		if err != nil {
			return nil, &usageError{err: err}
		}
		formats[i] = f
	}
	return formats, nil
}

func execute(ctx context.Context, p *plan, logger *slog.Logger, stdin io.Reader, stdout, stderr io.Writer) error {
	inputs := make([]retar.Input, 0, len(p.inputs))
	for _, in := range p.inputs {
		if in.path == stdio {
			inputs = append(inputs, retar.Input{Name: in.name, Format: in.format, Source: stdin})
			continue
		}
		file, err := os.Open(in.path)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		defer file.Close() //nolint:errcheck // read-only
		inputs = append(inputs, retar.Input{Name: in.name, Format: in.format, Source: file})
	}

	out, err := createOutput(p.output, p.force, stdout)
	if err != nil {
		return err
	}

	report, err := retar.Transcode(ctx, out, inputs,
		retar.WithLogger(logger),
		retar.WithBlockSize(p.blockSize),
		retar.WithNestedTar(p.unwrap),
		retar.WithDigests(p.digest),
		retar.WithSpillDir(p.spillDir),
		retar.WithMaxSpillBytes(p.maxSpill),
		retar.WithReadAhead(p.readAhead),
		retar.WithMaxDecoderMemory(p.maxZstd),
		retar.WithLowMemory(p.lowMemory),
	)
	if err != nil {
		if abortErr := out.Abort(); abortErr != nil {
			logger.Warn("removing incomplete output", "path", out.temp, "error", abortErr)
		}
		return err
	}
	if err := out.Commit(); err != nil {
		return err
	}

	logger.Info("archive written", "output", p.output, "entries", len(report.Entries), "bytes", report.BytesWritten)
	if p.digest {
		w := stdout
		if p.output == stdio {
			w = stderr
		}
		printDigests(w, report)
	}
	return nil
}

func printDigests(w io.Writer, report *retar.Report) {
	for _, e := range report.Entries {
		if e.Digest == "" {
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", e.Digest.Encoded(), e.Name)
	}
}

// output is the destination of a run. A file destination is written to a
// temporary file in the same directory and renamed on Commit.
type output struct {
	w     io.Writer
	file  *os.File
	temp  string
	final string
	perm  fs.FileMode
}

func createOutput(path string, force bool, stdout io.Writer) (*output, error) {
	if path == stdio {
		return &output{w: stdout}, nil
	}
	// A replaced destination keeps its permissions.
	perm := newFilePerm()
	switch info, err := os.Lstat(path); {
	case err == nil && !force:
		return nil, fmt.Errorf("destination %s exists (use --force to replace it)", path)
	case err == nil && info.Mode().IsRegular():
		perm = info.Mode().Perm()
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("check destination: %w", err)
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	file, err := os.CreateTemp(dir, "."+strings.TrimPrefix(base, ".")+".*.partial")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &output{w: file, file: file, temp: file.Name(), final: path, perm: perm}, nil
}

func (o *output) Write(p []byte) (int, error) { return o.w.Write(p) }

// Commit makes the output visible under its final name.
func (o *output) Commit() error {
	if o.file == nil {
		return nil
	}
	// CreateTemp makes the file owner-only.
	if err := o.file.Chmod(o.perm); err != nil {
		_ = o.file.Close()    //nolint:errcheck // already failing
		_ = os.Remove(o.temp) //nolint:errcheck // already failing
		return fmt.Errorf("set output permissions: %w", err)
	}
	if err := o.file.Close(); err != nil {
		_ = os.Remove(o.temp) //nolint:errcheck // already failing
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(o.temp, o.final); err != nil {
		_ = os.Remove(o.temp) //nolint:errcheck // already failing
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// Abort discards a partial file output. Bytes already sent to stdout
// cannot be recalled.
func (o *output) Abort() error {
	if o.file == nil {
		return nil
	}
	return errors.Join(o.file.Close(), os.Remove(o.temp))
}
