package logbuffer

import (
	"sync/atomic"

	"github.com/jittakal/logdispatch/internal/errors"
)

// Partition states.
const (
	StatusClean int32 = iota
	StatusNeedsCleaning
)

// Partition is one fixed-capacity segment of the ring. The tail only grows
// until the partition is cleaned.
type Partition struct {
	slot     int
	id       atomic.Int32
	tail     atomic.Int32
	status   atomic.Int32
	capacity int32
	data     []byte
}

func newPartition(slot int, data []byte) *Partition {
	return &Partition{
		slot:     slot,
		capacity: int32(len(data)),
		data:     data,
	}
}

// ID returns the logical partition id the slot currently holds.
func (p *Partition) ID() int32 { return p.id.Load() }

// Slot returns the index of the partition in the ring.
func (p *Partition) Slot() int { return p.slot }

// Capacity returns the partition size in bytes.
func (p *Partition) Capacity() int32 { return p.capacity }

// Tail returns the next free offset. It may exceed the capacity after an
// overflow.
func (p *Partition) Tail() int32 { return p.tail.Load() }

// Status returns StatusClean or StatusNeedsCleaning.
func (p *Partition) Status() int32 { return p.status.Load() }

// Data returns the partition's bytes. Readers must only inspect frames whose
// length has been published.
func (p *Partition) Data() []byte { return p.data }

// ReservedAppend reserves alignedLength bytes and returns the offset of the
// reservation. If the reservation does not fit, the remaining bytes are
// covered by a padding frame and ErrPartitionFull is returned.
func (p *Partition) ReservedAppend(alignedLength int32) (int32, error) {
	newTail := p.tail.Add(alignedLength)
	offset := newTail - alignedLength

	if newTail <= p.capacity-alignedHeaderLength {
		return offset, nil
	}

	if offset <= p.capacity-alignedHeaderLength {
		writePadding(p.data, offset, p.capacity-offset)
	}
	return offset, errors.ErrPartitionFull
}

// Clean zeroes the partition and resets its tail.
func (p *Partition) Clean() {
	clear(p.data)
	p.tail.Store(0)
	p.status.Store(StatusClean)
}

func (p *Partition) activate(id int32) {
	p.id.Store(id)
	p.status.Store(StatusNeedsCleaning)
}
