package logbuffer

import (
	"bytes"
	"errors"
	"testing"

	apperrors "github.com/jittakal/logdispatch/internal/errors"
)

func newTestLogBuffer(t *testing.T, partitionSize int32) *LogBuffer {
	t.Helper()

	arena, err := HeapAllocator{}.Allocate(int(partitionSize) * PartitionCount)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	buf, err := New(arena, partitionSize, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { buf.Close() })
	return buf
}

func TestPosition(t *testing.T) {
	tests := []struct {
		partitionID int32
		offset      int32
	}{
		{0, 0},
		{0, 64},
		{1, 0},
		{7, 1 << 20},
		{1 << 30, 1<<31 - 8},
	}

	for _, tt := range tests {
		pos := Position(tt.partitionID, tt.offset)
		if got := PartitionID(pos); got != tt.partitionID {
			t.Errorf("PartitionID(%d) = %d, want %d", pos, got, tt.partitionID)
		}
		if got := PartitionOffset(pos); got != tt.offset {
			t.Errorf("PartitionOffset(%d) = %d, want %d", pos, got, tt.offset)
		}
	}

	if Position(1, 0) <= Position(0, 1<<31-8) {
		t.Error("positions in a later partition must order after every offset of an earlier one")
	}
}

func TestAlignedFramedLength(t *testing.T) {
	tests := []struct {
		payload int
		want    int32
	}{
		{0, 16},
		{4, 16},
		{5, 24},
		{20, 32},
		{100, 112},
	}

	for _, tt := range tests {
		if got := AlignedFramedLength(tt.payload); got != tt.want {
			t.Errorf("AlignedFramedLength(%d) = %d, want %d", tt.payload, got, tt.want)
		}
	}
}

func TestNew_InvalidPartitionSize(t *testing.T) {
	arena, _ := HeapAllocator{}.Allocate(4096)

	if _, err := New(arena, 100, 0); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("New(size=100) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(arena, 2048, 0); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("New(arena too small) error = %v, want ErrInvalidConfig", err)
	}
}

func TestAppender_ClaimCommit(t *testing.T) {
	buf := newTestLogBuffer(t, 1024)
	p := buf.ActivePartition()

	var claim ClaimedFragment
	completed := 0
	newTail, err := Appender{}.Claim(p, &claim, 5, 42, func() { completed++ })
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if newTail != 24 {
		t.Errorf("newTail = %d, want 24", newTail)
	}
	if !claim.IsOpen() {
		t.Fatal("claim should be open")
	}

	if got := FrameLength(p.Data(), 0); got > 0 {
		t.Errorf("uncommitted frame length = %d, want <= 0", got)
	}

	copy(claim.Buffer(), "hello")
	claim.Commit()

	if claim.IsOpen() {
		t.Error("claim should be closed after commit")
	}
	if completed != 1 {
		t.Errorf("onComplete calls = %d, want 1", completed)
	}
	if got := FrameLength(p.Data(), 0); got != FramedLength(5) {
		t.Errorf("committed frame length = %d, want %d", got, FramedLength(5))
	}
	if got := FrameType(p.Data(), 0); got != TypeData {
		t.Errorf("FrameType() = %d, want %d", got, TypeData)
	}
	if got := FrameStreamID(p.Data(), 0); got != 42 {
		t.Errorf("FrameStreamID() = %d, want 42", got)
	}
	if got := p.Data()[HeaderLength : HeaderLength+5]; !bytes.Equal(got, []byte("hello")) {
		t.Errorf("payload = %q, want %q", got, "hello")
	}

	claim.Commit()
	if completed != 1 {
		t.Error("second commit must be a no-op")
	}
}

func TestAppender_ClaimAbort(t *testing.T) {
	buf := newTestLogBuffer(t, 1024)
	p := buf.ActivePartition()

	var claim ClaimedFragment
	if _, err := (Appender{}).Claim(p, &claim, 20, 1, nil); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	claim.Abort()

	if got := FrameType(p.Data(), 0); got != TypePadding {
		t.Errorf("FrameType() = %d, want padding", got)
	}
	if got := AlignedLength(FrameLength(p.Data(), 0)); got != AlignedFramedLength(20) {
		t.Errorf("aligned padding length = %d, want %d", got, AlignedFramedLength(20))
	}
}

func TestPartition_ReservedAppendOverflow(t *testing.T) {
	buf := newTestLogBuffer(t, 128)
	p := buf.ActivePartition()

	// Three 32-byte frames leave 32 bytes; a frame must leave room for a padding header.
	var claim ClaimedFragment
	for i := 0; i < 3; i++ {
		if _, err := (Appender{}).Claim(p, &claim, 20, 0, nil); err != nil {
			t.Fatalf("Claim(%d) error = %v", i, err)
		}
		claim.Commit()
	}

	_, err := Appender{}.Claim(p, &claim, 20, 0, nil)
	if !errors.Is(err, apperrors.ErrPartitionFull) {
		t.Fatalf("Claim() error = %v, want ErrPartitionFull", err)
	}
	if claim.IsOpen() {
		t.Error("claim must not be bound after overflow")
	}
	if got := FrameType(p.Data(), 96); got != TypePadding {
		t.Errorf("FrameType(96) = %d, want padding", got)
	}
	if got := FrameLength(p.Data(), 96); got != 32 {
		t.Errorf("padding length = %d, want 32", got)
	}
}

func TestClaimedFragmentBatch_Commit(t *testing.T) {
	buf := newTestLogBuffer(t, 1024)
	p := buf.ActivePartition()

	var batch ClaimedFragmentBatch
	reserved := BatchLength(3, 15)
	newTail, err := Appender{}.ClaimBatch(p, &batch, 3, reserved, nil)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if newTail != AlignedLength(reserved) {
		t.Errorf("newTail = %d, want %d", newTail, AlignedLength(reserved))
	}

	for i, payload := range []string{"one", "two", "three!!!!"} {
		dst, err := batch.NextFragment(len(payload), int32(i))
		if err != nil {
			t.Fatalf("NextFragment(%d) error = %v", i, err)
		}
		copy(dst, payload)
	}

	if _, err := batch.NextFragment(1, 0); !errors.Is(err, apperrors.ErrBatchExhausted) {
		t.Errorf("NextFragment() past count error = %v, want ErrBatchExhausted", err)
	}

	if got := FrameLength(p.Data(), 0); got > 0 {
		t.Error("batch must stay invisible until commit")
	}
	batch.Commit()

	data := p.Data()
	offsets := []int32{0, 16, 32}
	for i, offset := range offsets {
		if FrameLength(data, offset) <= 0 {
			t.Fatalf("fragment %d not committed", i)
		}
		flags := FrameFlags(data, offset)
		if got, want := IsBatchBegin(flags), i == 0; got != want {
			t.Errorf("fragment %d batch begin = %v, want %v", i, got, want)
		}
		if got, want := IsBatchEnd(flags), i == 2; got != want {
			t.Errorf("fragment %d batch end = %v, want %v", i, got, want)
		}
	}

	tailPadding := int32(56)
	if got := FrameType(data, tailPadding); got != TypePadding {
		t.Errorf("FrameType(%d) = %d, want padding", tailPadding, got)
	}
	if got := tailPadding + FrameLength(data, tailPadding); got != newTail {
		t.Errorf("padding ends at %d, want %d", got, newTail)
	}
}

func TestClaimedFragmentBatch_Abort(t *testing.T) {
	buf := newTestLogBuffer(t, 1024)
	p := buf.ActivePartition()

	var batch ClaimedFragmentBatch
	reserved := BatchLength(2, 10)
	if _, err := (Appender{}).ClaimBatch(p, &batch, 2, reserved, nil); err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if _, err := batch.NextFragment(5, 0); err != nil {
		t.Fatalf("NextFragment() error = %v", err)
	}
	batch.Abort()

	if got := FrameType(p.Data(), 0); got != TypePadding {
		t.Errorf("FrameType() = %d, want padding", got)
	}
	if got := FrameLength(p.Data(), 0); got != AlignedLength(reserved) {
		t.Errorf("padding length = %d, want %d", got, AlignedLength(reserved))
	}
	if batch.IsOpen() {
		t.Error("batch should be closed after abort")
	}
}

func TestSetFrameFailed(t *testing.T) {
	buf := newTestLogBuffer(t, 1024)
	p := buf.ActivePartition()

	var claim ClaimedFragment
	Appender{}.Claim(p, &claim, 8, 3, nil)
	claim.Commit()

	SetFrameFailed(p.Data(), 0)
	SetFrameFailed(p.Data(), 0)

	if !IsFailed(FrameFlags(p.Data(), 0)) {
		t.Error("failed flag should be set")
	}
	if got := FrameType(p.Data(), 0); got != TypeData {
		t.Errorf("FrameType() = %d, want data after flag flip", got)
	}
	if got := FrameStreamID(p.Data(), 0); got != 3 {
		t.Errorf("FrameStreamID() = %d, want 3", got)
	}
}

func TestLogBuffer_AdvanceAndClean(t *testing.T) {
	buf := newTestLogBuffer(t, 256)

	var claim ClaimedFragment
	Appender{}.Claim(buf.ActivePartition(), &claim, 8, 0, nil)
	claim.Commit()

	if got := buf.AdvanceActivePartition(); got != 1 {
		t.Fatalf("AdvanceActivePartition() = %d, want 1", got)
	}
	if got := buf.ActivePartition().Slot(); got != 1 {
		t.Errorf("active slot = %d, want 1", got)
	}

	if cleaned := buf.CleanPartitions(0); cleaned != 0 {
		t.Errorf("CleanPartitions(0) = %d, want 0", cleaned)
	}

	first := buf.PartitionByID(0)
	if cleaned := buf.CleanPartitions(1); cleaned != 1 {
		t.Errorf("CleanPartitions(1) = %d, want 1", cleaned)
	}
	if first.Tail() != 0 || first.Status() != StatusClean {
		t.Errorf("partition 0 tail = %d status = %d, want 0 and clean", first.Tail(), first.Status())
	}
	if FrameLength(first.Data(), 0) != 0 {
		t.Error("cleaned partition must be zeroed")
	}

	buf.AdvanceActivePartition()
	buf.AdvanceActivePartition()
	if got := buf.ActivePartition(); got != first || got.ID() != 3 {
		t.Errorf("partition id 3 should reuse slot 0, got slot %d id %d", got.Slot(), got.ID())
	}
	if cleaned := buf.CleanPartitions(10); cleaned != 2 {
		t.Errorf("CleanPartitions(10) = %d, want 2 (active partition is never cleaned)", cleaned)
	}
}

func TestAllocators(t *testing.T) {
	allocators := map[string]Allocator{
		"heap": HeapAllocator{},
		"mmap": MmapAllocator{},
	}

	for name, allocator := range allocators {
		t.Run(name, func(t *testing.T) {
			block, err := allocator.Allocate(3 * 4096)
			if err != nil {
				t.Fatalf("Allocate() error = %v", err)
			}
			if block.Capacity() != 3*4096 {
				t.Errorf("Capacity() = %d, want %d", block.Capacity(), 3*4096)
			}
			block.Bytes()[0] = 1
			if err := block.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
			if err := block.Close(); err != nil {
				t.Errorf("second Close() error = %v", err)
			}
		})
	}

	if _, err := AllocatorByName("gpu"); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("AllocatorByName(gpu) error = %v, want ErrInvalidConfig", err)
	}
}

func TestLogBuffer_PinDefersRelease(t *testing.T) {
	released := 0
	arena := NewAllocatedBuffer(make([]byte, 3*256), func() error {
		released++
		return nil
	})
	buf, err := New(arena, 256, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !buf.Pin() || !buf.Pin() {
		t.Fatal("Pin() on an open buffer = false")
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if released != 0 {
		t.Fatalf("arena released with pins held")
	}
	if buf.Pin() {
		t.Error("Pin() after Close = true")
	}

	buf.Unpin()
	if released != 0 {
		t.Errorf("arena released with one pin held")
	}
	buf.Unpin()
	if released != 1 {
		t.Errorf("releases = %d, want 1", released)
	}
	if err := buf.Close(); err != nil || released != 1 {
		t.Errorf("second Close() = %v, releases = %d, want nil and 1", err, released)
	}
}
