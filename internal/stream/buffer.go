package stream

import "sync"

// DefaultBlockSize is the I/O granularity used when none is configured.
const DefaultBlockSize = 64 << 10

// BufferPool manages reusable block buffers so per-entry copies do not
// allocate.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a BufferPool that allocates buffers of the given size.
// If size is <= 0, DefaultBlockSize is used.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBlockSize
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Size returns the length of buffers handed out by the pool.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Get retrieves a buffer from the pool.
// The caller should call Put once finished with it.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte) //nolint:forcetypeassert // pool only holds *[]byte
}

// Put returns a buffer to the pool. The caller must not use it afterwards.
func (bp *BufferPool) Put(b *[]byte) {
	if b != nil && len(*b) == bp.size {
		bp.pool.Put(b)
	}
}
