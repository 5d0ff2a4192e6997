package stream

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// Copy copies src to dst in chunks of at most len(buf) bytes until src
// reports io.EOF. Unlike io.CopyBuffer it never delegates to WriterTo or
// ReaderFrom, so the chunk size always bounds each write.
func Copy(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// CopyAhead copies src to dst like Copy, but lets a reader goroutine
// decode up to depth blocks ahead of the writer. Bytes reach dst in the
// order they were read. With depth <= 0 it is a plain Copy.
func CopyAhead(dst io.Writer, src io.Reader, pool *BufferPool, depth int) (int64, error) {
	if depth <= 0 {
		buf := pool.Get()
		defer pool.Put(buf)
		return Copy(dst, src, *buf)
	}

	type chunk struct {
		buf *[]byte
		n   int
	}

	// Cancellation is only honored between entries, so the pipeline runs
	// detached from the job context.
	g, gctx := errgroup.WithContext(context.Background())
	chunks := make(chan chunk, depth)

	g.Go(func() error {
		defer close(chunks)
		for {
			buf := pool.Get()
			n, err := src.Read(*buf)
			if n > 0 {
				select {
				case chunks <- chunk{buf: buf, n: n}:
				case <-gctx.Done():
					pool.Put(buf)
					return nil
				}
			} else {
				pool.Put(buf)
			}
			if err == io.EOF { //nolint:errorlint // io.EOF is returned unwrapped by contract
				return nil
			}
			if err != nil {
				return err
			}
		}
	})

	var written int64
	g.Go(func() error {
		for c := range chunks {
			w, err := dst.Write((*c.buf)[:c.n])
			written += int64(w)
			pool.Put(c.buf)
			if err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	return written, err
}
