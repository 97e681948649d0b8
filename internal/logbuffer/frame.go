package logbuffer

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Frame header layout, native endian:
//
//	0      4       6       7          8          12
//	+------+-------+-------+----------+----------+---------
//	|length| type  | flags | reserved | streamId | payload
//	+------+-------+-------+----------+----------+---------
//
// length is the framed length (header plus payload). A value <= 0 marks a
// frame that is reserved but not committed. type and flags share the aligned
// word at offset 4 so they can be read and flipped atomically.
const (
	LengthOffset   = 0
	TypeOffset     = 4
	FlagsOffset    = 6
	StreamIDOffset = 8
	HeaderLength   = 12

	FrameAlignment = 8
)

// Frame types.
const (
	TypeData    int16 = 0
	TypePadding int16 = -1
)

// Frame flags.
const (
	FlagFailed     uint8 = 1 << 7
	FlagBatchBegin uint8 = 1 << 6
	FlagBatchEnd   uint8 = 1 << 5
)

// alignedHeaderLength is the smallest frame a partition always keeps room
// for, so an overflow can always be covered by a padding frame.
var alignedHeaderLength = Align(HeaderLength, FrameAlignment)

// Align rounds value up to the next multiple of alignment (a power of two).
func Align(value, alignment int32) int32 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// FramedLength is the header plus payload length.
func FramedLength(payloadLength int) int32 {
	return int32(payloadLength) + HeaderLength
}

// AlignedLength is the number of bytes a frame of the given framed length
// occupies in a partition.
func AlignedLength(framedLength int32) int32 {
	return Align(framedLength, FrameAlignment)
}

// AlignedFramedLength is AlignedLength(FramedLength(payloadLength)).
func AlignedFramedLength(payloadLength int) int32 {
	return AlignedLength(FramedLength(payloadLength))
}

// PayloadOffset returns the payload offset of the frame at frameOffset.
func PayloadOffset(frameOffset int32) int32 {
	return frameOffset + HeaderLength
}

// BatchLength returns the number of bytes to reserve for fragmentCount
// fragments carrying totalPayload bytes between them, including room for the
// trailing padding frame written on commit.
func BatchLength(fragmentCount, totalPayload int) int32 {
	worstCase := int32(totalPayload) + int32(fragmentCount)*(HeaderLength+FrameAlignment-1)
	return Align(worstCase, FrameAlignment) + alignedHeaderLength
}

func int32At(buf []byte, offset int32) *int32 {
	return (*int32)(unsafe.Pointer(&buf[offset]))
}

func uint32At(buf []byte, offset int32) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[offset]))
}

func joinTypeWord(frameType int16, flags uint8) uint32 {
	var b [4]byte
	binary.NativeEndian.PutUint16(b[0:2], uint16(frameType))
	b[2] = flags
	return binary.NativeEndian.Uint32(b[:])
}

func splitTypeWord(word uint32) (int16, uint8) {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], word)
	return int16(binary.NativeEndian.Uint16(b[0:2])), b[2]
}

// FrameLength loads the frame length with acquire semantics.
func FrameLength(buf []byte, frameOffset int32) int32 {
	return atomic.LoadInt32(int32At(buf, frameOffset+LengthOffset))
}

// StoreFrameLength publishes the frame length with release semantics.
func StoreFrameLength(buf []byte, frameOffset, length int32) {
	atomic.StoreInt32(int32At(buf, frameOffset+LengthOffset), length)
}

// FrameType returns the frame type.
func FrameType(buf []byte, frameOffset int32) int16 {
	frameType, _ := splitTypeWord(atomic.LoadUint32(uint32At(buf, frameOffset+TypeOffset)))
	return frameType
}

// FrameFlags returns the frame flags.
func FrameFlags(buf []byte, frameOffset int32) uint8 {
	_, flags := splitTypeWord(atomic.LoadUint32(uint32At(buf, frameOffset+TypeOffset)))
	return flags
}

// FrameStreamID returns the stream id of the frame.
func FrameStreamID(buf []byte, frameOffset int32) int32 {
	return int32(binary.NativeEndian.Uint32(buf[frameOffset+StreamIDOffset:]))
}

// SetFrameFlags ORs flags into the frame header. Flags are never cleared.
func SetFrameFlags(buf []byte, frameOffset int32, flags uint8) {
	atomic.OrUint32(uint32At(buf, frameOffset+TypeOffset), joinTypeWord(0, flags))
}

// SetFrameFailed sets the sticky failed flag.
func SetFrameFailed(buf []byte, frameOffset int32) {
	SetFrameFlags(buf, frameOffset, FlagFailed)
}

// IsFailed reports whether the failed flag is set in flags.
func IsFailed(flags uint8) bool { return flags&FlagFailed != 0 }

// IsBatchBegin reports whether the batch-begin flag is set in flags.
func IsBatchBegin(flags uint8) bool { return flags&FlagBatchBegin != 0 }

// IsBatchEnd reports whether the batch-end flag is set in flags.
func IsBatchEnd(flags uint8) bool { return flags&FlagBatchEnd != 0 }

// writeHeader writes a header whose length is not yet visible to readers.
func writeHeader(buf []byte, frameOffset, framedLength int32, frameType int16, flags uint8, streamID int32) {
	StoreFrameLength(buf, frameOffset, -framedLength)
	atomic.StoreUint32(uint32At(buf, frameOffset+TypeOffset), joinTypeWord(frameType, flags))
	binary.NativeEndian.PutUint32(buf[frameOffset+StreamIDOffset:], uint32(streamID))
}

// writePadding covers length bytes at frameOffset with a committed padding frame.
func writePadding(buf []byte, frameOffset, length int32) {
	writeHeader(buf, frameOffset, length, TypePadding, 0, 0)
	StoreFrameLength(buf, frameOffset, length)
}

// markPadding turns an uncommitted frame into a committed padding frame of
// the same length.
func markPadding(buf []byte, frameOffset int32) {
	length := -FrameLength(buf, frameOffset)
	atomic.StoreUint32(uint32At(buf, frameOffset+TypeOffset), joinTypeWord(TypePadding, 0))
	StoreFrameLength(buf, frameOffset, length)
}
