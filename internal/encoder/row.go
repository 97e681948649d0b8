package encoder

import (
	"time"

	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/pkg/event"
)

// FragmentParquet represents the columnar schema of an archived fragment.
// Event columns are NULL for payloads that are not structured CloudEvents.
type FragmentParquet struct {
	// Log metadata
	Dispatcher      string `parquet:"dispatcher,dict"`
	Position        int64  `parquet:"position"`
	PartitionID     int32  `parquet:"partition_id"`
	PartitionOffset int32  `parquet:"partition_offset"`
	StreamID        int32  `parquet:"stream_id"`
	Failed          bool   `parquet:"failed"`
	Payload         []byte `parquet:"payload"`

	// CloudEvent fields (using pointers for proper NULL handling)
	EventID         *string    `parquet:"event_id,optional"`
	EventSource     *string    `parquet:"event_source,dict,optional"`
	EventType       *string    `parquet:"event_type,dict,optional"`
	SpecVersion     *string    `parquet:"spec_version,dict,optional"`
	Subject         *string    `parquet:"subject,optional"`
	DataContentType *string    `parquet:"data_content_type,dict,optional"`
	Time            *time.Time `parquet:"time,timestamp(microsecond),optional"`

	// Storage metadata
	ArchivedAt time.Time `parquet:"archived_at,timestamp(microsecond)"`
}

// newRow flattens a record into the archive schema shared by all encoders.
func newRow(record event.Record) FragmentParquet {
	row := FragmentParquet{
		Dispatcher:      record.Dispatcher,
		Position:        record.Position,
		PartitionID:     logbuffer.PartitionID(record.Position),
		PartitionOffset: logbuffer.PartitionOffset(record.Position),
		StreamID:        record.StreamID,
		Failed:          record.Failed,
		Payload:         record.Payload,
		ArchivedAt:      record.ArchivedAt,
	}

	if ce := record.Event; ce != nil {
		row.EventID = optional(ce.ID())
		row.EventSource = optional(ce.Source())
		row.EventType = optional(ce.Type())
		row.SpecVersion = optional(ce.SpecVersion())
		row.Subject = optional(ce.Subject())
		row.DataContentType = optional(ce.DataContentType())
		if t := ce.Time(); !t.IsZero() {
			row.Time = &t
		}
	}

	return row
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
