package dispatcher

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/cursor"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/pkg/fragment"
	"github.com/jittakal/logdispatch/pkg/notify"
)

// Subscription is one reader of a dispatcher. Reads never block: they return
// what is available up to the subscription's limit. A subscription must not
// be read from more than one goroutine at a time.
type Subscription struct {
	id         int32
	name       string
	dispatcher *Dispatcher
	position   *cursor.Cursor
	limit      atomic.Pointer[cursor.Cursor]
	closed     atomic.Bool
}

func newSubscription(d *Dispatcher, id int32, name string, position int64, limit *cursor.Cursor) *Subscription {
	s := &Subscription{
		id:         id,
		name:       name,
		dispatcher: d,
		position:   cursor.New(position),
	}
	s.limit.Store(limit)
	return s
}

// ID returns the subscription id.
func (s *Subscription) ID() int32 { return s.id }

// Name returns the subscription name.
func (s *Subscription) Name() string { return s.name }

// Position returns the position just past the last consumed fragment.
func (s *Subscription) Position() int64 { return s.position.Get() }

// Limit returns the position the subscription may read up to.
func (s *Subscription) Limit() int64 { return s.limit.Load().Get() }

// IsClosed reports whether the subscription was closed.
func (s *Subscription) IsClosed() bool { return s.closed.Load() }

// HasAvailable reports whether there is anything between the position and
// the limit. The data may still be uncommitted.
func (s *Subscription) HasAvailable() bool {
	return !s.IsClosed() && s.Position() < s.Limit()
}

// Poll hands up to maxFragments fragments to h. Every fragment is consumed
// whatever h returns; Failed also sets the fragment's failed flag. It
// returns the number of fragments read.
func (s *Subscription) Poll(h fragment.Handler, maxFragments int) int {
	return s.read(h, maxFragments, false)
}

// PeekAndConsume hands up to maxFragments fragments to h and stops before
// the first fragment h postpones. It returns the number of fragments
// consumed.
func (s *Subscription) PeekAndConsume(h fragment.Handler, maxFragments int) int {
	return s.read(h, maxFragments, true)
}

func (s *Subscription) read(h fragment.Handler, maxFragments int, handlerControlled bool) int {
	for {
		n, skipped := s.scan(h, maxFragments, handlerControlled)
		if n > 0 || !skipped {
			return n
		}
	}
}

type scanCounts struct {
	consumed  int
	failed    int
	postponed int
}

// scan reads one run of fragments from the current partition. It reports
// whether it moved past padding without reading anything, in which case the
// caller scans again.
func (s *Subscription) scan(h fragment.Handler, maxFragments int, handlerControlled bool) (int, bool) {
	if maxFragments <= 0 || s.IsClosed() {
		return 0, false
	}

	d := s.dispatcher
	position := s.position.Get()
	limit := s.Limit()
	if position >= limit {
		return 0, false
	}

	if !d.logBuffer.Pin() {
		return 0, false
	}
	defer d.logBuffer.Unpin()

	partitionID := logbuffer.PartitionID(position)
	offset := logbuffer.PartitionOffset(position)
	partition := d.logBuffer.PartitionByID(partitionID)
	buf := partition.Data()

	var counts scanCounts
	read := 0
	for read < maxFragments && logbuffer.Position(partitionID, offset) < limit {
		length := logbuffer.FrameLength(buf, offset)
		if length <= 0 {
			break
		}

		next := offset + logbuffer.AlignedLength(length)
		if logbuffer.FrameType(buf, offset) == logbuffer.TypePadding {
			if read == 0 {
				s.skipPadding(partition, next)
				return 0, true
			}
			break
		}

		payloadStart := logbuffer.PayloadOffset(offset)
		f := fragment.Fragment{
			Payload:  buf[payloadStart : offset+length : offset+length],
			StreamID: logbuffer.FrameStreamID(buf, offset),
			Position: logbuffer.Position(partitionID, next),
			Failed:   logbuffer.IsFailed(logbuffer.FrameFlags(buf, offset)),
		}

		result, stop := s.invoke(h, f)
		if stop {
			break
		}
		if result == fragment.Postpone && handlerControlled {
			counts.postponed++
			break
		}
		if result == fragment.Failed {
			logbuffer.SetFrameFailed(buf, offset)
			counts.failed++
		} else {
			counts.consumed++
		}

		read++
		offset = next
	}

	if read > 0 {
		s.position.ProposeMaxOrdered(logbuffer.Position(partitionID, offset))
		d.signals.SignalAll(notify.DataConsumed)
	}
	s.report(counts)
	return read, false
}

// skipPadding moves the subscription past a padding frame, into the next
// partition if the padding ends the current one.
func (s *Subscription) skipPadding(partition *logbuffer.Partition, next int32) {
	position := logbuffer.Position(partition.ID(), next)
	if next >= partition.Capacity() {
		position = logbuffer.Position(partition.ID()+1, 0)
	}
	s.position.ProposeMaxOrdered(position)
	s.dispatcher.signals.SignalAll(notify.DataConsumed)
}

// invoke calls h and applies the panic policy if it panics. stop reports
// that the scan must end before the fragment.
func (s *Subscription) invoke(h fragment.Handler, f fragment.Fragment) (result fragment.Result, stop bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		d := s.dispatcher
		d.metrics.IncHandlerPanics(d.name, s.name)
		d.logger.Error("fragment handler panicked",
			zap.String("subscription", s.name),
			zap.Int64("position", f.Position),
			zap.Int32("stream_id", f.StreamID),
			zap.Stringer("policy", d.panicPolicy),
			zap.Any("panic", r),
		)

		switch d.panicPolicy {
		case PanicMarkFailed:
			result, stop = fragment.Failed, false
		case PanicStop:
			result, stop = fragment.Postpone, true
		default:
			result, stop = fragment.Consume, false
		}
	}()

	return h.OnFragment(f), false
}

func (s *Subscription) report(counts scanCounts) {
	d := s.dispatcher
	if counts.consumed > 0 {
		d.metrics.AddFragmentsConsumed(d.name, s.name, fragment.Consume.String(), counts.consumed)
	}
	if counts.failed > 0 {
		d.metrics.AddFragmentsConsumed(d.name, s.name, fragment.Failed.String(), counts.failed)
	}
	if counts.postponed > 0 {
		d.metrics.AddFragmentsConsumed(d.name, s.name, fragment.Postpone.String(), counts.postponed)
	}
}

// PeekBlock binds peek to a run of whole fragments starting at the
// subscription position, at most maxBlockSize bytes long. Batches are
// included whole or not at all. With streamAware the block ends before the
// first fragment whose stream id differs from the first one. A single
// fragment or batch larger than maxBlockSize is returned on its own. It
// returns the block length; the subscription only advances when the block
// is marked completed. A peek that is still open is released first.
func (s *Subscription) PeekBlock(peek *BlockPeek, maxBlockSize int, streamAware bool) int {
	for {
		n, skipped := s.peekBlock(peek, maxBlockSize, streamAware)
		if n > 0 || !skipped {
			return n
		}
	}
}

func (s *Subscription) peekBlock(peek *BlockPeek, maxBlockSize int, streamAware bool) (int, bool) {
	if maxBlockSize <= 0 || s.IsClosed() {
		return 0, false
	}

	d := s.dispatcher
	position := s.position.Get()
	limit := s.Limit()
	if position >= limit {
		return 0, false
	}

	// The pin passes to peek when a block is bound.
	if !d.logBuffer.Pin() {
		return 0, false
	}
	pinned := true
	defer func() {
		if pinned {
			d.logBuffer.Unpin()
		}
	}()

	partitionID := logbuffer.PartitionID(position)
	start := logbuffer.PartitionOffset(position)
	partition := d.logBuffer.PartitionByID(partitionID)
	buf := partition.Data()

	var (
		offset    = start
		blockEnd  = start
		inBatch   bool
		streamID  int32
		hasStream bool
	)
	for logbuffer.Position(partitionID, offset) < limit {
		length := logbuffer.FrameLength(buf, offset)
		if length <= 0 {
			break
		}

		next := offset + logbuffer.AlignedLength(length)
		if logbuffer.FrameType(buf, offset) == logbuffer.TypePadding {
			if blockEnd == start && !inBatch {
				s.skipPadding(partition, next)
				return 0, true
			}
			break
		}

		flags := logbuffer.FrameFlags(buf, offset)
		if !inBatch {
			frameStream := logbuffer.FrameStreamID(buf, offset)
			if streamAware && hasStream && frameStream != streamID {
				break
			}
			if !hasStream {
				streamID, hasStream = frameStream, true
			}
			inBatch = logbuffer.IsBatchBegin(flags) && !logbuffer.IsBatchEnd(flags)
		} else if logbuffer.IsBatchEnd(flags) {
			inBatch = false
		}

		if int(next-start) > maxBlockSize && blockEnd > start {
			break
		}

		offset = next
		if !inBatch {
			blockEnd = offset
		}
	}

	if blockEnd == start {
		return 0, false
	}

	peek.wrap(s, partition, start, blockEnd-start, streamID)
	pinned = false
	d.metrics.ObserveBlockPeeked(d.name, s.name, int(blockEnd-start))
	return int(blockEnd - start), false
}

// complete advances the subscription past a block.
func (s *Subscription) complete(position int64) {
	if s.IsClosed() {
		return
	}
	s.position.ProposeMaxOrdered(position)
	s.dispatcher.signals.SignalAll(notify.DataConsumed)
}
