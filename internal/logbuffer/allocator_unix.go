//go:build unix

package logbuffer

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/jittakal/logdispatch/internal/errors"
)

// MmapAllocator maps anonymous private memory outside the Go heap. The block
// is page aligned and unmapped on Close.
type MmapAllocator struct{}

// Allocate maps size bytes, rounded up to the page size.
func (MmapAllocator) Allocate(size int) (*AllocatedBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: allocation size %d", errors.ErrInvalidConfig, size)
	}

	pageSize := unix.Getpagesize()
	padded := (size + pageSize - 1) / pageSize * pageSize

	data, err := unix.Mmap(
		-1, 0,
		padded,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %d bytes: %w", padded, err)
	}

	return NewAllocatedBuffer(data[:size:size], func() error {
		return unix.Munmap(data)
	}), nil
}
