package logbuffer

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/jittakal/logdispatch/internal/errors"
)

// PartitionCount is the number of partitions in the ring.
const PartitionCount = 3

// LogBuffer is a ring of PartitionCount equally sized partitions cut from a
// single arena. Logical partition ids grow without bound; id mod
// PartitionCount selects the slot.
type LogBuffer struct {
	arena         *AllocatedBuffer
	partitions    [PartitionCount]*Partition
	partitionSize int32
	activeID      atomic.Int32
	closed        atomic.Bool
	// pins counts write handles and reads that still touch the arena.
	pins atomic.Int64
}

// New creates a log buffer over arena. The arena must hold at least
// PartitionCount*partitionSize bytes and partitionSize must be a multiple of
// the frame alignment.
func New(arena *AllocatedBuffer, partitionSize int32, initialPartitionID int32) (*LogBuffer, error) {
	if partitionSize <= 2*alignedHeaderLength || partitionSize%FrameAlignment != 0 {
		return nil, fmt.Errorf("%w: partition size %d must be a multiple of %d and larger than %d",
			errors.ErrInvalidConfig, partitionSize, FrameAlignment, 2*alignedHeaderLength)
	}
	if initialPartitionID < 0 {
		return nil, fmt.Errorf("%w: initial partition id %d is negative", errors.ErrInvalidConfig, initialPartitionID)
	}

	data := arena.Bytes()
	required := int(partitionSize) * PartitionCount
	if len(data) < required {
		return nil, fmt.Errorf("%w: arena holds %d bytes, need %d", errors.ErrInvalidConfig, len(data), required)
	}
	if uintptr(unsafe.Pointer(&data[0]))%FrameAlignment != 0 {
		return nil, fmt.Errorf("%w: arena is not %d-byte aligned", errors.ErrInvalidConfig, FrameAlignment)
	}

	b := &LogBuffer{
		arena:         arena,
		partitionSize: partitionSize,
	}
	for i := range b.partitions {
		start := i * int(partitionSize)
		b.partitions[i] = newPartition(i, data[start:start+int(partitionSize):start+int(partitionSize)])
	}

	b.activeID.Store(initialPartitionID)
	b.slotFor(initialPartitionID).activate(initialPartitionID)
	return b, nil
}

func (b *LogBuffer) slotFor(partitionID int32) *Partition {
	return b.partitions[int(partitionID)%PartitionCount]
}

// PartitionSize returns the capacity of every partition.
func (b *LogBuffer) PartitionSize() int32 { return b.partitionSize }

// ActivePartitionID returns the logical id of the partition being written.
func (b *LogBuffer) ActivePartitionID() int32 { return b.activeID.Load() }

// ActivePartition returns the partition being written.
func (b *LogBuffer) ActivePartition() *Partition {
	return b.slotFor(b.activeID.Load())
}

// PartitionByID returns the slot that holds, or will hold, the logical
// partition id.
func (b *LogBuffer) PartitionByID(partitionID int32) *Partition {
	return b.slotFor(partitionID)
}

// Partitions returns the ring slots in order.
func (b *LogBuffer) Partitions() []*Partition {
	return b.partitions[:]
}

// AdvanceActivePartition moves the writer to the next logical partition and
// returns its id. Callers must have covered the previous partition's
// remainder with padding and must serialise calls with reservations.
func (b *LogBuffer) AdvanceActivePartition() int32 {
	next := b.activeID.Load() + 1
	b.slotFor(next).activate(next)
	b.activeID.Store(next)
	return next
}

// CleanPartitions recycles every inactive partition holding a logical id
// below minPartitionID. It returns the number of partitions cleaned. Calls
// must be serialised with AdvanceActivePartition.
func (b *LogBuffer) CleanPartitions(minPartitionID int32) int {
	active := b.activeID.Load()
	cleaned := 0
	for _, p := range b.partitions {
		id := p.ID()
		if id == active || id >= minPartitionID || p.Status() != StatusNeedsCleaning {
			continue
		}
		p.Clean()
		cleaned++
	}
	return cleaned
}

// RawView returns the whole arena. It is a read view for zero-copy block
// consumers; ownership stays with the log buffer.
func (b *LogBuffer) RawView() []byte {
	return b.arena.Bytes()[:int(b.partitionSize)*PartitionCount]
}

// IsClosed reports whether Close has been called.
func (b *LogBuffer) IsClosed() bool { return b.closed.Load() }

// Pin keeps the arena mapped until the matching Unpin. It fails once the
// buffer is closed.
func (b *LogBuffer) Pin() bool {
	b.pins.Add(1)
	if b.closed.Load() {
		b.Unpin()
		return false
	}
	return true
}

// Unpin drops a pin taken by Pin. The last one after Close releases the
// arena.
func (b *LogBuffer) Unpin() {
	if b.pins.Add(-1) == 0 && b.closed.Load() {
		_ = b.arena.Close()
	}
}

// Close stops new pins and releases the arena, or leaves that to the last
// Unpin while pins are held. It is safe to call more than once.
func (b *LogBuffer) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.pins.Load() > 0 {
		return nil
	}
	return b.arena.Close()
}
