package buffer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/pkg/buffer"
	"github.com/jittakal/logdispatch/pkg/event"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ buffer.Buffer  = (*StreamBuffer)(nil)
	_ buffer.Manager = (*Manager)(nil)
)

// recordOverhead approximates the fixed columns stored with every record
// (position, stream id, failed flag, archive time).
const recordOverhead = 24

// StreamBuffer buffers records for a single stream of a dispatcher.
// It enforces size and record count limits and tracks first and last
// write times for file rotation decisions.
type StreamBuffer struct {
	key            event.StreamKey
	records        []event.Record
	maxSizeBytes   int64
	maxRecords     int
	currentSize    int64
	firstWriteTime time.Time
	lastWriteTime  time.Time
	mu             sync.RWMutex
}

// New creates a new stream buffer.
func New(key event.StreamKey, maxSizeBytes int64, maxRecords int) *StreamBuffer {
	return &StreamBuffer{
		key:          key,
		records:      make([]event.Record, 0, maxRecords),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// Key returns the stream this buffer holds records for.
func (b *StreamBuffer) Key() event.StreamKey {
	return b.key
}

// Add adds a record to the buffer.
func (b *StreamBuffer) Add(record event.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	recordSize := int64(estimateSize(record))

	if b.maxRecords > 0 && len(b.records) >= b.maxRecords {
		return fmt.Errorf("%w: max records (%d) reached", errors.ErrBufferFull, b.maxRecords)
	}

	if b.maxSizeBytes > 0 && b.currentSize+recordSize > b.maxSizeBytes {
		return fmt.Errorf("%w: max size (%d bytes) would be exceeded", errors.ErrBufferFull, b.maxSizeBytes)
	}

	b.records = append(b.records, record)
	b.currentSize += recordSize

	now := time.Now()
	if b.firstWriteTime.IsZero() {
		b.firstWriteTime = now
	}
	b.lastWriteTime = now

	return nil
}

// Drain removes and returns all records from the buffer.
// The returned slice is owned by the caller.
func (b *StreamBuffer) Drain() []event.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.records
	b.reset()
	return records
}

// Stats returns current buffer statistics.
func (b *StreamBuffer) Stats() event.FileStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return event.FileStats{
		RecordCount:    len(b.records),
		SizeBytes:      b.currentSize,
		FirstWriteTime: b.firstWriteTime,
		LastWriteTime:  b.lastWriteTime,
	}
}

// IsEmpty returns true if the buffer is empty.
func (b *StreamBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records) == 0
}

// Reset clears the buffer and resets all statistics.
func (b *StreamBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *StreamBuffer) reset() {
	b.records = make([]event.Record, 0, b.maxRecords)
	b.currentSize = 0
	b.firstWriteTime = time.Time{}
	b.lastWriteTime = time.Time{}
}

// estimateSize estimates the encoded size of a record in bytes.
func estimateSize(record event.Record) int {
	size := recordOverhead + len(record.Payload) + len(record.Dispatcher)

	if ce := record.Event; ce != nil {
		size += len(ce.ID())
		size += len(ce.Source())
		size += len(ce.SpecVersion())
		size += len(ce.Type())
		size += len(ce.Subject())
		size += len(ce.DataContentType())
	}

	return size
}

// Manager manages buffers for multiple streams.
// Buffers are created on demand; lookups use double-checked locking.
type Manager struct {
	buffers      map[event.StreamKey]*StreamBuffer
	maxSizeBytes int64
	maxRecords   int
	mu           sync.RWMutex
}

// NewManager creates a new buffer manager.
func NewManager(maxSizeBytes int64, maxRecords int) *Manager {
	return &Manager{
		buffers:      make(map[event.StreamKey]*StreamBuffer),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// GetOrCreate returns a buffer for the stream, creating if needed.
func (m *Manager) GetOrCreate(key event.StreamKey) buffer.Buffer {
	m.mu.RLock()
	buf, exists := m.buffers[key]
	m.mu.RUnlock()

	if exists {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if buf, exists := m.buffers[key]; exists {
		return buf
	}

	buf = New(key, m.maxSizeBytes, m.maxRecords)
	m.buffers[key] = buf
	return buf
}

// Keys returns the stream keys in dispatcher, stream order.
func (m *Manager) Keys() []event.StreamKey {
	m.mu.RLock()
	keys := make([]event.StreamKey, 0, len(m.buffers))
	for key := range m.buffers {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Dispatcher != keys[j].Dispatcher {
			return keys[i].Dispatcher < keys[j].Dispatcher
		}
		return keys[i].StreamID < keys[j].StreamID
	})
	return keys
}
