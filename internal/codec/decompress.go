package codec

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DecompressPool recycles zstd decoders across ZIP entries and inputs.
type DecompressPool struct {
	pool             *sync.Pool
	maxDecoderMemory uint64
	lowmem           bool
}

// PoolOption configures a DecompressPool.
type PoolOption func(*DecompressPool)

// WithLowmem trades decode speed for smaller decoder buffers.
func WithLowmem(b bool) PoolOption {
	return func(p *DecompressPool) {
		p.lowmem = b
	}
}

// NewDecompressPool creates a pool of zstd decoders. A maxMemory of 0
// applies the library default window limit.
func NewDecompressPool(maxMemory uint64, opts ...PoolOption) *DecompressPool {
	p := &DecompressPool{maxDecoderMemory: maxMemory}
	for _, opt := range opts {
		opt(p)
	}
	p.pool = &sync.Pool{
		New: func() any {
			dec, err := p.newDecoder(nil)
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return p
}

// Get returns a decoder reading from r and a release function the caller
// must invoke when done. No release function is returned with an error.
func (p *DecompressPool) Get(r io.Reader) (*zstd.Decoder, func(), error) {
	if p == nil || p.pool == nil {
		dec, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}

	dec, ok := p.pool.Get().(*zstd.Decoder)
	if !ok {
		fresh, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return fresh, fresh.Close, nil
	}

	// r is partly consumed after a failed Reset; it cannot be retried.
	if err := dec.Reset(r); err != nil {
		dec.Close()
		return nil, nil, err
	}

	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}

// newDecoder creates a synchronous decoder that runs on the caller's goroutine.
func (p *DecompressPool) newDecoder(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if p != nil {
		opts = append(opts, zstd.WithDecoderLowmem(p.lowmem))
		if p.maxDecoderMemory != 0 {
			opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
		}
	}
	return zstd.NewReader(r, opts...)
}
