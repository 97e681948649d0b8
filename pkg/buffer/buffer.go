// Package buffer defines interfaces for record buffering operations.
//
// Buffers batch records copied out of the log buffer before they are
// written to storage, so that one file holds many fragments.
package buffer

import "github.com/jittakal/logdispatch/pkg/event"

// Buffer holds one stream's fragments in log order until they are flushed.
// Implementations are safe for concurrent use.
type Buffer interface {
	// Add appends a record. It fails with an error wrapping ErrBufferFull
	// when the record would exceed the size or record limit, leaving the
	// buffer unchanged.
	Add(record event.Record) error

	// Drain returns the buffered records in order and empties the buffer.
	Drain() []event.Record

	// Stats reports the size, count and write window of the pending file.
	Stats() event.FileStats

	IsEmpty() bool

	// Reset drops the buffered records.
	Reset()
}

// Manager owns one Buffer per stream.
type Manager interface {
	// GetOrCreate returns the stream's buffer, creating it on first use.
	GetOrCreate(key event.StreamKey) Buffer

	// Keys lists every stream seen so far, including drained ones.
	Keys() []event.StreamKey
}
