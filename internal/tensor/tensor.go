// Package tensor implements the size-bucketed tensor buffer pool. Decoded
// batches are packed RGB24 tensors shaped batch x width x height x channel;
// because batch size and frame dimensions vary across requests, buffers are
// pooled by rounded byte size rather than by a fixed shape.
package tensor

import (
	"sync"
	"sync/atomic"

	"github.com/five82/vidtensor/internal/errs"
)

// bucketGranularity rounds buffer sizes up to the nearest multiple of this
// many bytes before bucketing, so buffers from slightly different batch
// shapes can still share a sync.Pool.
const bucketGranularity = 64 * 1024

// Buffer is a reference-counted, pool-owned tensor. Declared shape is
// batch x width x height x channel; see Strides4D for the (deliberately
// non-naive) stride layout backing it.
type Buffer struct {
	Data     []byte
	Batch    int
	Width    int
	Height   int
	Channels int
	Strides  [4]int

	pool   *BufferPool
	bucket int
	refs   atomic.Int32
}

// Strides4D returns the {batch, width, height, channel} stride tuple for a
// frame of the given width/height, assuming 3-channel packed RGB24.
//
// The declared shape is [N, W, H, 3], but the memory underneath is an
// ordinary row-major image raster: N frames of H rows of
// linesize (= width*3) bytes, pixel (w, h) at byte offset h*linesize + w*3.
// That means the *width* dimension (logical index 1) has the small stride
// (3, one pixel), and the *height* dimension (logical index 2) has the
// large one (linesize, one row), the reverse of what shape [N,W,H,3] would
// suggest under naive row-major strides. This is intentional: it lets the
// decoder copy each decoded row straight into the buffer without a
// transpose, while the declared shape still reads [N,W,H,3] to callers.
// Implementations must not "fix" this into standard [N,H,W,3] strides
// without also changing the declared shape.
func Strides4D(width, height int) [4]int {
	linesize := width * 3
	return [4]int{linesize * height, 3, linesize, 1}
}

// NewBuffer allocates a standalone buffer not backed by any pool. Used for
// one-off batches where pooling overhead isn't worth it.
func NewBuffer(batch, width, height int) *Buffer {
	size := batch * width * height * 3
	b := &Buffer{
		Data:     make([]byte, size),
		Batch:    batch,
		Width:    width,
		Height:   height,
		Channels: 3,
		Strides:  Strides4D(width, height),
	}
	b.refs.Store(1)
	return b
}

// Retain increments the buffer's reference count. Callers that hand a
// buffer to more than one consumer (e.g. a batch delivered to the caller
// while a copy lingers for a scaled-batch path) must call Retain before
// sharing it.
func (b *Buffer) Retain() {
	b.refs.Add(1)
}

// Release decrements the reference count, returning the buffer to its pool
// once it reaches zero. Releasing a pool-less buffer simply drops it for the
// garbage collector to reclaim.
func (b *Buffer) Release() {
	if b.refs.Add(-1) > 0 {
		return
	}
	if b.pool != nil {
		b.pool.put(b)
	}
}

// BufferPool is a size-bucketed allocator: each distinct rounded byte size
// gets its own sync.Pool, so repeated requests
// for the same batch shape reuse memory without false-sharing across
// unrelated shapes.
type BufferPool struct {
	mu      sync.Mutex
	buckets map[int]*sync.Pool
}

// NewBufferPool creates an empty pool. Buckets are created lazily on first
// use of a given size.
func NewBufferPool() *BufferPool {
	return &BufferPool{buckets: make(map[int]*sync.Pool)}
}

func roundUp(n int) int {
	if n <= 0 {
		return bucketGranularity
	}
	return ((n + bucketGranularity - 1) / bucketGranularity) * bucketGranularity
}

func (p *BufferPool) bucketFor(size int) *sync.Pool {
	key := roundUp(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	bp, ok := p.buckets[key]
	if !ok {
		bp = &sync.Pool{}
		p.buckets[key] = bp
	}
	return bp
}

// Get returns a buffer shaped for batch x width x height x 3, either reused
// from the matching bucket or freshly allocated.
func (p *BufferPool) Get(batch, width, height int) (*Buffer, error) {
	if batch <= 0 || width <= 0 || height <= 0 {
		return nil, errs.NewLogicError("tensor: batch, width, and height must be positive")
	}

	size := batch * width * height * 3
	bucket := roundUp(size)
	bp := p.bucketFor(size)

	var b *Buffer
	if v := bp.Get(); v != nil {
		b = v.(*Buffer)
		if cap(b.Data) < size {
			b.Data = make([]byte, size)
		} else {
			b.Data = b.Data[:size]
		}
	} else {
		b = &Buffer{Data: make([]byte, size)}
	}

	b.Batch = batch
	b.Width = width
	b.Height = height
	b.Channels = 3
	b.Strides = Strides4D(width, height)
	b.pool = p
	b.bucket = bucket
	b.refs.Store(1)
	return b, nil
}

func (p *BufferPool) put(b *Buffer) {
	bp := p.bucketFor(b.bucket)
	// Clear the pool back-reference so a leaked reference to a pooled
	// buffer can't double-release it.
	b.pool = nil
	bp.Put(b)
}
