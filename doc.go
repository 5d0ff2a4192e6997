// Package retar converts archives and compressed streams into a single
// ustar TAR stream without materializing inputs on disk.
//
// A job takes an ordered list of inputs. Each input is GZIP, ZIP, BZIP2,
// XZ or TAR, either declared or detected from its leading bytes. The
// entries of every input are written in order to one output archive:
//   - ZIP and TAR members keep their names, kinds and metadata
//   - GZIP, BZIP2 and XZ payloads become one regular file named after the
//     input with its compression extension removed
//
// Names are validated before anything is written. An absolute name or one
// that climbs out of the archive root fails the job with [ErrUnsafePath].
//
// # Quick Start
//
// Merge a ZIP and a GZIP file into one TAR:
//
//	report, err := retar.Transcode(ctx, out, []retar.Input{
//	    {Name: "site.zip", Source: zipFile},
//	    {Name: "notes.txt.gz", Source: gzFile},
//	})
//	if err != nil {
//	    return err // out holds an incomplete archive
//	}
//	fmt.Println(len(report.Entries), "entries")
//
// # Failure
//
// A job is all or nothing. On failure the returned [*Error] names the
// input, the entry and the input offset where the failure surfaced, and
// the end-of-archive marker is never written, so a partial output is not
// mistaken for a complete one. Callers writing to a file should write to
// a temporary name and rename on success.
//
// # Unknown sizes
//
// A TAR header carries the entry size before its content. Single-stream
// payloads and ZIP entries with trailing data descriptors are buffered in
// memory up to [WithSpillMemory] and in a temporary file beyond that.
// [WithMaxSpillBytes] caps the total.
package retar
