package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/cantor-asr/cantor/internal/dnn"
)

// sizeCategory buckets buffers for pooling.
type sizeCategory int

const (
	smallBuffer sizeCategory = iota
	mediumBuffer
	largeBuffer
)

const (
	smallThreshold  = 4 * 1024    // 4KB
	mediumThreshold = 1024 * 1024 // 1MB
	maxPoolSize     = 100         // Max buffers per category
)

// workspaceUsage is the usage every workspace buffer is created with, so
// any pooled buffer can serve any request of sufficient size.
const workspaceUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// deviceBuffer is a workspace buffer living in GPU memory.
type deviceBuffer struct {
	buffer *wgpu.Buffer
	size   int64
}

// Size returns the buffer capacity in bytes.
func (b *deviceBuffer) Size() int64 { return b.size }

// Allocator hands out pooled GPU buffers. Freed buffers go back to a
// per-category pool and are reused by later allocations of equal or
// smaller size.
type Allocator struct {
	device *wgpu.Device

	mu     sync.Mutex
	small  []*deviceBuffer
	medium []*deviceBuffer
	large  []*deviceBuffer

	// Statistics
	totalAllocated uint64
	poolHits       uint64
	poolMisses     uint64
}

var _ dnn.Allocator = (*Allocator)(nil)

func newAllocator(device *wgpu.Device) *Allocator {
	return &Allocator{
		device: device,
		small:  make([]*deviceBuffer, 0, maxPoolSize),
		medium: make([]*deviceBuffer, 0, maxPoolSize),
		large:  make([]*deviceBuffer, 0, maxPoolSize),
	}
}

// Allocate returns a device buffer of at least the given byte size,
// reusing a pooled buffer when one fits.
func (a *Allocator) Allocate(bytes int64) (dnn.Buffer, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("webgpu: cannot allocate %d bytes", bytes)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pool := a.pool(categorize(bytes))
	for i, db := range *pool {
		if db.size >= bytes {
			*pool = append((*pool)[:i], (*pool)[i+1:]...)
			a.poolHits++
			return db, nil
		}
	}

	a.poolMisses++
	a.totalAllocated++

	buffer := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: workspaceUsage,
		Size:  uint64(bytes),
	})
	if buffer == nil {
		return nil, fmt.Errorf("webgpu: device refused buffer of %d bytes", bytes)
	}
	return &deviceBuffer{buffer: buffer, size: bytes}, nil
}

// Free returns a buffer to the pool. When the category pool is full the
// buffer is released to the device immediately.
func (a *Allocator) Free(b dnn.Buffer) {
	db, ok := b.(*deviceBuffer)
	if !ok || db.buffer == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pool := a.pool(categorize(db.size))
	if len(*pool) >= maxPoolSize {
		db.buffer.Release()
		return
	}
	*pool = append(*pool, db)
}

// Stats returns pool hit and miss counts since construction.
func (a *Allocator) Stats() (hits, misses uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.poolHits, a.poolMisses
}

// drain releases every pooled buffer.
func (a *Allocator) drain() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pool := range []*[]*deviceBuffer{&a.small, &a.medium, &a.large} {
		for _, db := range *pool {
			db.buffer.Release()
		}
		*pool = (*pool)[:0]
	}
}

func (a *Allocator) pool(c sizeCategory) *[]*deviceBuffer {
	switch c {
	case smallBuffer:
		return &a.small
	case mediumBuffer:
		return &a.medium
	default:
		return &a.large
	}
}

func categorize(bytes int64) sizeCategory {
	switch {
	case bytes < smallThreshold:
		return smallBuffer
	case bytes < mediumThreshold:
		return mediumBuffer
	default:
		return largeBuffer
	}
}
