// Package event defines the record types that leave the dispatcher.
//
// A Record is a copy of one committed fragment taken by a consumer that
// persists or forwards fragments outside the log buffer. Payloads that are
// structured CloudEvents are decoded alongside the raw bytes.
//
// # Records
//
// Record carries a fragment's log position, stream id, failed flag and a
// copy of its payload:
//
//	record := event.Record{
//	    Dispatcher: "orders",
//	    Position:   logbuffer.Position(4, 128),
//	    StreamID:   7,
//	    Payload:    payload,
//	    ArchivedAt: time.Now(),
//	}
//
// When the payload is a structured CloudEvent, DecodeCloudEvent fills
// Record.Event and GetEventTime prefers the event's own time over the archive
// time.
//
// # Stream Identification
//
// StreamKey identifies a stream within a dispatcher:
//
//	key := event.StreamKey{Dispatcher: "orders", StreamID: 5}
//	key.String() // "orders-5"
//
// # File Formats
//
//	event.FormatParquet  // Columnar format for analytics
//	event.FormatAvro     // Row-based format with schema
package event
