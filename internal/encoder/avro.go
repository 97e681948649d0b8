package encoder

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jittakal/logdispatch/pkg/encoder"
	"github.com/jittakal/logdispatch/pkg/event"
	"github.com/linkedin/goavro/v2"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Apache Avro binary format.
// It produces OCF (Object Container File) output with optional gzip
// compression of the whole file.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: compression,
	}, nil
}

// avroSchema returns the Avro schema for archived fragments.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "ArchivedFragment",
		"namespace": "io.logdispatch.archive",
		"fields": [
			{"name": "dispatcher", "type": "string"},
			{"name": "position", "type": "long"},
			{"name": "partition_id", "type": "int"},
			{"name": "partition_offset", "type": "int"},
			{"name": "stream_id", "type": "int"},
			{"name": "failed", "type": "boolean"},
			{"name": "payload", "type": "bytes"},
			{"name": "event_id", "type": ["null", "string"], "default": null},
			{"name": "event_source", "type": ["null", "string"], "default": null},
			{"name": "event_type", "type": ["null", "string"], "default": null},
			{"name": "spec_version", "type": ["null", "string"], "default": null},
			{"name": "subject", "type": ["null", "string"], "default": null},
			{"name": "data_content_type", "type": ["null", "string"], "default": null},
			{"name": "time", "type": ["null", "string"], "default": null},
			{"name": "archived_at", "type": "string"}
		]
	}`
}

func (e *AvroEncoder) gzipped() bool {
	return strings.EqualFold(e.compression, "gzip")
}

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	return encodeFile(filePath, records, e.write)
}

// EncodeToBytes encodes records to bytes (useful for testing).
func (e *AvroEncoder) EncodeToBytes(records []event.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if err := e.write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) write(w io.Writer, records []event.Record) error {
	var gzipWriter *gzip.Writer
	if e.gzipped() {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: e.codec,
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	for _, record := range records {
		if err := ocfWriter.Append([]interface{}{convertToAvroMap(record)}); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

// convertToAvroMap converts a Record to Avro map representation.
func convertToAvroMap(record event.Record) map[string]interface{} {
	row := newRow(record)

	payload := row.Payload
	if payload == nil {
		payload = []byte{}
	}

	avroMap := map[string]interface{}{
		"dispatcher":        row.Dispatcher,
		"position":          row.Position,
		"partition_id":      row.PartitionID,
		"partition_offset":  row.PartitionOffset,
		"stream_id":         row.StreamID,
		"failed":            row.Failed,
		"payload":           payload,
		"event_id":          nullableString(row.EventID),
		"event_source":      nullableString(row.EventSource),
		"event_type":        nullableString(row.EventType),
		"spec_version":      nullableString(row.SpecVersion),
		"subject":           nullableString(row.Subject),
		"data_content_type": nullableString(row.DataContentType),
		"time":              nil,
		"archived_at":       row.ArchivedAt.Format(time.RFC3339Nano),
	}
	if row.Time != nil {
		avroMap["time"] = goavro.Union("string", row.Time.Format(time.RFC3339Nano))
	}

	return avroMap
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return goavro.Union("string", *s)
}

// Format returns the file format.
func (e *AvroEncoder) Format() event.FileFormat {
	return event.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.gzipped() {
		return ".avro.gz"
	}
	return ".avro"
}
