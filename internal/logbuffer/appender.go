package logbuffer

import (
	"fmt"

	"github.com/jittakal/logdispatch/internal/errors"
)

// Appender implements the claim protocol against a partition.
type Appender struct{}

// Claim reserves a frame for length payload bytes in p and binds claim to it.
// It returns the partition offset just past the reserved frame, or
// ErrPartitionFull after padding the partition's remainder.
func (Appender) Claim(p *Partition, claim *ClaimedFragment, length int, streamID int32, onComplete func()) (int32, error) {
	framedLength := FramedLength(length)
	alignedLength := AlignedLength(framedLength)

	offset, err := p.ReservedAppend(alignedLength)
	if err != nil {
		return 0, err
	}

	writeHeader(p.data, offset, framedLength, TypeData, 0, streamID)
	claim.wrap(p.data, offset, int32(length), onComplete)
	return offset + alignedLength, nil
}

// ClaimBatch reserves batchLength bytes (see BatchLength) in p and binds
// batch to the region. It returns the partition offset just past the region,
// or ErrPartitionFull after padding the partition's remainder.
func (Appender) ClaimBatch(p *Partition, batch *ClaimedFragmentBatch, fragmentCount int, batchLength int32, onComplete func()) (int32, error) {
	alignedLength := AlignedLength(batchLength)

	offset, err := p.ReservedAppend(alignedLength)
	if err != nil {
		return 0, err
	}

	// Readers stop here until the batch is committed or aborted.
	writeHeader(p.data, offset, alignedLength, TypeData, 0, 0)
	batch.wrap(p.data, p.ID(), offset, alignedLength, fragmentCount, onComplete)
	return offset + alignedLength, nil
}

// ClaimedFragment is a single-use write handle over one reserved frame.
// Write the payload into Buffer, then call exactly one of Commit or Abort.
type ClaimedFragment struct {
	buf        []byte
	offset     int32
	length     int32
	onComplete func()
}

func (c *ClaimedFragment) wrap(buf []byte, offset, length int32, onComplete func()) {
	c.buf = buf
	c.offset = offset
	c.length = length
	c.onComplete = onComplete
}

func (c *ClaimedFragment) reset() func() {
	onComplete := c.onComplete
	c.buf = nil
	c.offset = 0
	c.length = 0
	c.onComplete = nil
	return onComplete
}

// IsOpen reports whether the handle is bound to a reservation.
func (c *ClaimedFragment) IsOpen() bool { return c.buf != nil }

// Buffer returns the payload region of the reserved frame.
func (c *ClaimedFragment) Buffer() []byte {
	if c.buf == nil {
		return nil
	}
	start := PayloadOffset(c.offset)
	end := start + c.length
	return c.buf[start:end:end]
}

// Length returns the payload length.
func (c *ClaimedFragment) Length() int { return int(c.length) }

// Commit makes the fragment visible to readers. It is a no-op on a handle
// that is not open.
func (c *ClaimedFragment) Commit() {
	if c.buf == nil {
		return
	}
	StoreFrameLength(c.buf, c.offset, FramedLength(int(c.length)))
	if onComplete := c.reset(); onComplete != nil {
		onComplete()
	}
}

// Abort turns the reservation into padding that readers skip. It is a no-op
// on a handle that is not open.
func (c *ClaimedFragment) Abort() {
	if c.buf == nil {
		return
	}
	markPadding(c.buf, c.offset)
	if onComplete := c.reset(); onComplete != nil {
		onComplete()
	}
}

// ClaimedFragmentBatch is a single-use write handle over a region that holds
// several fragments. The batch becomes visible all at once on Commit.
type ClaimedFragmentBatch struct {
	buf           []byte
	partitionID   int32
	batchOffset   int32
	batchLength   int32
	nextOffset    int32
	fragmentCount int
	fragments     []int32
	onComplete    func()
}

func (b *ClaimedFragmentBatch) wrap(buf []byte, partitionID, offset, length int32, fragmentCount int, onComplete func()) {
	b.buf = buf
	b.partitionID = partitionID
	b.batchOffset = offset
	b.batchLength = length
	b.nextOffset = offset
	b.fragmentCount = fragmentCount
	b.fragments = b.fragments[:0]
	b.onComplete = onComplete
}

func (b *ClaimedFragmentBatch) reset() func() {
	onComplete := b.onComplete
	b.buf = nil
	b.batchOffset = 0
	b.batchLength = 0
	b.nextOffset = 0
	b.fragmentCount = 0
	b.fragments = b.fragments[:0]
	b.onComplete = nil
	return onComplete
}

// IsOpen reports whether the handle is bound to a reservation.
func (b *ClaimedFragmentBatch) IsOpen() bool { return b.buf != nil }

// FragmentCount returns the number of fragments carved so far.
func (b *ClaimedFragmentBatch) FragmentCount() int { return len(b.fragments) }

// NextFragment carves the next fragment out of the batch and returns its
// payload region.
func (b *ClaimedFragmentBatch) NextFragment(length int, streamID int32) ([]byte, error) {
	if b.buf == nil {
		return nil, errors.ErrClaimNotOpen
	}
	if len(b.fragments) >= b.fragmentCount {
		return nil, fmt.Errorf("%w: all %d fragments carved", errors.ErrBatchExhausted, b.fragmentCount)
	}

	framedLength := FramedLength(length)
	alignedLength := AlignedLength(framedLength)
	limit := b.batchOffset + b.batchLength - alignedHeaderLength
	if b.nextOffset+alignedLength > limit {
		return nil, fmt.Errorf("%w: %d bytes left, fragment needs %d",
			errors.ErrBatchExhausted, limit-b.nextOffset, alignedLength)
	}

	var flags uint8
	if len(b.fragments) == 0 {
		flags = FlagBatchBegin
	}

	offset := b.nextOffset
	writeHeader(b.buf, offset, framedLength, TypeData, flags, streamID)
	b.fragments = append(b.fragments, offset)
	b.nextOffset += alignedLength

	start := PayloadOffset(offset)
	end := start + int32(length)
	return b.buf[start:end:end], nil
}

// FragmentPosition returns the position just past the last carved fragment.
func (b *ClaimedFragmentBatch) FragmentPosition() int64 {
	return Position(b.partitionID, b.nextOffset)
}

// Commit publishes every carved fragment and covers the unused remainder of
// the region with padding. A batch with no fragments is aborted.
func (b *ClaimedFragmentBatch) Commit() {
	if b.buf == nil {
		return
	}
	if len(b.fragments) == 0 {
		b.Abort()
		return
	}

	SetFrameFlags(b.buf, b.fragments[len(b.fragments)-1], FlagBatchEnd)
	writePadding(b.buf, b.nextOffset, b.batchOffset+b.batchLength-b.nextOffset)

	// Last to first: once the first length is visible, all of them are.
	for i := len(b.fragments) - 1; i >= 0; i-- {
		offset := b.fragments[i]
		StoreFrameLength(b.buf, offset, -FrameLength(b.buf, offset))
	}

	if onComplete := b.reset(); onComplete != nil {
		onComplete()
	}
}

// Abort covers the whole region with a single padding frame.
func (b *ClaimedFragmentBatch) Abort() {
	if b.buf == nil {
		return
	}
	writePadding(b.buf, b.batchOffset, b.batchLength)
	if onComplete := b.reset(); onComplete != nil {
		onComplete()
	}
}
