package logbuffer

import (
	"fmt"
	"sync"

	"github.com/jittakal/logdispatch/internal/errors"
)

// Allocator hands out the raw memory backing a log buffer.
type Allocator interface {
	Allocate(size int) (*AllocatedBuffer, error)
}

// Ensure implementations satisfy interface at compile time.
var (
	_ Allocator = HeapAllocator{}
	_ Allocator = MmapAllocator{}
)

// AllocatedBuffer is an owned block of memory. Close releases it.
type AllocatedBuffer struct {
	data    []byte
	release func() error
	once    sync.Once
	err     error
}

// NewAllocatedBuffer wraps data; release may be nil.
func NewAllocatedBuffer(data []byte, release func() error) *AllocatedBuffer {
	return &AllocatedBuffer{data: data, release: release}
}

// Bytes returns the memory block.
func (b *AllocatedBuffer) Bytes() []byte { return b.data }

// Capacity returns the size of the block.
func (b *AllocatedBuffer) Capacity() int { return len(b.data) }

// Close releases the memory. The returned slice from Bytes must not be used
// afterwards.
func (b *AllocatedBuffer) Close() error {
	b.once.Do(func() {
		if b.release != nil {
			b.err = b.release()
		}
		b.data = nil
	})
	return b.err
}

// HeapAllocator allocates from the Go heap.
type HeapAllocator struct{}

// Allocate returns a zeroed heap block of size bytes.
func (HeapAllocator) Allocate(size int) (*AllocatedBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: allocation size %d", errors.ErrInvalidConfig, size)
	}
	return NewAllocatedBuffer(make([]byte, size), nil), nil
}

// AllocatorByName maps a configuration value to an allocator.
func AllocatorByName(name string) (Allocator, error) {
	switch name {
	case "", "heap":
		return HeapAllocator{}, nil
	case "mmap":
		return MmapAllocator{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown allocator %q", errors.ErrInvalidConfig, name)
	}
}
