//go:build !unix

package logbuffer

// MmapAllocator falls back to the heap where anonymous mappings are not
// available.
type MmapAllocator struct{}

// Allocate returns a heap block of size bytes.
func (MmapAllocator) Allocate(size int) (*AllocatedBuffer, error) {
	return HeapAllocator{}.Allocate(size)
}
