package event

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// StreamKey uniquely identifies a stream within a dispatcher.
type StreamKey struct {
	Dispatcher string
	StreamID   int32
}

// String returns a string representation of the stream key in the format "dispatcher-stream".
func (k StreamKey) String() string {
	return fmt.Sprintf("%s-%d", k.Dispatcher, k.StreamID)
}

// Record represents a fragment copied out of the log buffer.
type Record struct {
	Dispatcher string
	Position   int64
	StreamID   int32
	Failed     bool
	Payload    []byte

	// Event is set when the payload decodes as a structured CloudEvent.
	Event *cloudevents.Event

	ArchivedAt time.Time
}

// Key returns the stream key of the record.
func (r *Record) Key() StreamKey {
	return StreamKey{Dispatcher: r.Dispatcher, StreamID: r.StreamID}
}

// FileStats contains statistics about buffered records.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the storage file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// DecodeCloudEvent decodes a structured-mode JSON CloudEvent.
func DecodeCloudEvent(payload []byte) (*cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	if err := json.Unmarshal(payload, &ce); err != nil {
		return nil, fmt.Errorf("decode cloudevent: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloudevent: %w", err)
	}
	return &ce, nil
}

// GetEventTime returns the event's timestamp.
// It returns the CloudEvent time if present, otherwise falls back to the archive time.
func (r *Record) GetEventTime() time.Time {
	if r.Event != nil && !r.Event.Time().IsZero() {
		return r.Event.Time()
	}
	return r.ArchivedAt
}

// GetEventTimeUnix returns the event's timestamp as Unix seconds.
func (r *Record) GetEventTimeUnix() int64 {
	return r.GetEventTime().Unix()
}

// SpecVersion returns the CloudEvents spec version, or "" for opaque payloads.
func (r *Record) SpecVersion() string {
	if r.Event == nil {
		return ""
	}
	return r.Event.SpecVersion()
}
