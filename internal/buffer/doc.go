// Package buffer provides thread-safe buffering for archived records.
//
// The archiver copies every fragment of a peeked block into the buffer of
// its stream and only then marks the block completed, so the buffer is the
// point at which a fragment stops depending on the log buffer's memory.
//
// # StreamBuffer
//
// StreamBuffer holds records for one stream of one dispatcher:
//
//	buf := buffer.New(event.StreamKey{Dispatcher: "orders", StreamID: 7}, maxSizeBytes, maxRecords)
//
//	if err := buf.Add(record); errors.Is(err, errors.ErrBufferFull) {
//	    flush(buf.Drain())
//	}
//
// # Manager
//
// Manager creates stream buffers on demand and lists them for periodic
// rotation checks:
//
//	manager := buffer.NewManager(maxSizeBytes, maxRecords)
//	buf := manager.GetOrCreate(key)
//	for _, key := range manager.Keys() {
//	    // check rotation
//	}
//
// # Thread Safety
//
//   - Add(), Drain(), Reset() use write locks
//   - Stats(), IsEmpty() use read locks
//   - Manager.GetOrCreate() uses double-checked locking
//
// A zero maxRecords or maxSizeBytes disables that limit.
package buffer
