package dispatcher

import (
	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/pkg/fragment"
)

// BlockPeek is a zero-copy view of a run of fragments returned by
// Subscription.PeekBlock. It stays valid until MarkCompleted, MarkFailed or
// Release, and keeps the log buffer's memory alive until then.
type BlockPeek struct {
	subscription *Subscription
	partition    *logbuffer.Partition
	blockOffset  int32
	blockLength  int32
	streamID     int32
}

// wrap binds the peek to a block. The caller's pin on the log buffer moves
// to the peek.
func (p *BlockPeek) wrap(s *Subscription, partition *logbuffer.Partition, offset, length, streamID int32) {
	p.Release()
	p.subscription = s
	p.partition = partition
	p.blockOffset = offset
	p.blockLength = length
	p.streamID = streamID
}

func (p *BlockPeek) reset() {
	if p.subscription != nil {
		defer p.subscription.dispatcher.logBuffer.Unpin()
	}
	p.subscription = nil
	p.partition = nil
	p.blockOffset = 0
	p.blockLength = 0
	p.streamID = 0
}

// IsOpen reports whether the peek holds a block.
func (p *BlockPeek) IsOpen() bool { return p.subscription != nil }

// Buffer returns the framed bytes of the block.
func (p *BlockPeek) Buffer() []byte {
	if p.partition == nil {
		return nil
	}
	end := p.blockOffset + p.blockLength
	return p.partition.Data()[p.blockOffset:end:end]
}

// RawBuffer returns the whole log buffer; the block starts at BlockOffset.
func (p *BlockPeek) RawBuffer() []byte {
	if p.subscription == nil {
		return nil
	}
	return p.subscription.dispatcher.logBuffer.RawView()
}

// BlockOffset returns the offset of the block in RawBuffer.
func (p *BlockPeek) BlockOffset() int {
	if p.partition == nil {
		return 0
	}
	return p.partition.Slot()*int(p.partition.Capacity()) + int(p.blockOffset)
}

// BlockLength returns the block length in bytes.
func (p *BlockPeek) BlockLength() int { return int(p.blockLength) }

// BlockPosition returns the position of the first fragment.
func (p *BlockPeek) BlockPosition() int64 {
	if p.partition == nil {
		return 0
	}
	return logbuffer.Position(p.partition.ID(), p.blockOffset)
}

// NewPosition returns the position the subscription moves to on completion.
func (p *BlockPeek) NewPosition() int64 {
	if p.partition == nil {
		return 0
	}
	return logbuffer.Position(p.partition.ID(), p.blockOffset+p.blockLength)
}

// StreamID returns the stream id of the first fragment.
func (p *BlockPeek) StreamID() int32 { return p.streamID }

// Fragments calls fn for each fragment of the block until fn returns false.
func (p *BlockPeek) Fragments(fn func(f fragment.Fragment) bool) {
	if p.partition == nil {
		return
	}

	buf := p.partition.Data()
	partitionID := p.partition.ID()
	end := p.blockOffset + p.blockLength
	for offset := p.blockOffset; offset < end; {
		length := logbuffer.FrameLength(buf, offset)
		next := offset + logbuffer.AlignedLength(length)

		if logbuffer.FrameType(buf, offset) == logbuffer.TypeData {
			payloadStart := logbuffer.PayloadOffset(offset)
			f := fragment.Fragment{
				Payload:  buf[payloadStart : offset+length : offset+length],
				StreamID: logbuffer.FrameStreamID(buf, offset),
				Position: logbuffer.Position(partitionID, next),
				Failed:   logbuffer.IsFailed(logbuffer.FrameFlags(buf, offset)),
			}
			if !fn(f) {
				return
			}
		}
		offset = next
	}
}

// Count returns the number of fragments in the block.
func (p *BlockPeek) Count() int {
	n := 0
	p.Fragments(func(fragment.Fragment) bool {
		n++
		return true
	})
	return n
}

// MarkCompleted advances the subscription past the block and releases the
// peek.
func (p *BlockPeek) MarkCompleted() {
	if p.subscription == nil {
		return
	}
	s, position := p.subscription, p.NewPosition()
	p.reset()
	s.complete(position)
}

// Release drops the block without advancing the subscription or touching
// the fragments. The next peek returns the same block.
func (p *BlockPeek) Release() {
	if p.subscription == nil {
		return
	}
	p.reset()
}

// MarkFailed sets the failed flag on every fragment of the block and
// releases the peek without advancing the subscription. The next peek
// returns the same fragments, now flagged.
func (p *BlockPeek) MarkFailed() {
	if p.partition == nil {
		return
	}

	buf := p.partition.Data()
	end := p.blockOffset + p.blockLength
	for offset := p.blockOffset; offset < end; {
		length := logbuffer.FrameLength(buf, offset)
		if logbuffer.FrameType(buf, offset) == logbuffer.TypeData {
			logbuffer.SetFrameFailed(buf, offset)
		}
		offset += logbuffer.AlignedLength(length)
	}
	p.reset()
}
