package encoder

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/linkedin/goavro/v2"
)

func readAvro(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()

	reader, err := goavro.NewOCFReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewOCFReader() error = %v", err)
	}

	var rows []map[string]interface{}
	for reader.Scan() {
		datum, err := reader.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		rows = append(rows, datum.(map[string]interface{}))
	}
	if err := reader.Err(); err != nil {
		t.Fatalf("reader error = %v", err)
	}
	return rows
}

func TestNewAvroEncoder(t *testing.T) {
	enc, err := NewAvroEncoder("gzip")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}
	if enc.codec == nil {
		t.Error("codec is nil")
	}
	if !strings.Contains(enc.codec.Schema(), "ArchivedFragment") {
		t.Errorf("schema = %s, want ArchivedFragment record", enc.codec.Schema())
	}
}

func TestAvroEncoder_RoundTrip(t *testing.T) {
	enc, err := NewAvroEncoder("uncompressed")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	data, err := enc.EncodeToBytes(testRecords(t))
	if err != nil {
		t.Fatalf("EncodeToBytes() error = %v", err)
	}

	rows := readAvro(t, data)
	if len(rows) != 2 {
		t.Fatalf("read %d rows, want 2", len(rows))
	}

	first := rows[0]
	if got := first["partition_offset"]; got != int32(64) {
		t.Errorf("partition_offset = %v, want 64", got)
	}
	if got := first["stream_id"]; got != int32(7) {
		t.Errorf("stream_id = %v, want 7", got)
	}
	id, ok := first["event_id"].(map[string]interface{})
	if !ok || id["string"] != "evt-1" {
		t.Errorf("event_id = %v, want evt-1", first["event_id"])
	}

	second := rows[1]
	if second["event_id"] != nil {
		t.Errorf("event_id = %v, want null", second["event_id"])
	}
	if got := second["failed"]; got != true {
		t.Errorf("failed = %v, want true", got)
	}
	if got := string(second["payload"].([]byte)); got != "opaque" {
		t.Errorf("payload = %q, want opaque", got)
	}
}

func TestAvroEncoder_Gzip(t *testing.T) {
	enc, err := NewAvroEncoder("GZIP")
	if err != nil {
		t.Fatalf("NewAvroEncoder() error = %v", err)
	}

	data, err := enc.EncodeToBytes(testRecords(t))
	if err != nil {
		t.Fatalf("EncodeToBytes() error = %v", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	if rows := readAvro(t, plain); len(rows) != 2 {
		t.Errorf("read %d rows, want 2", len(rows))
	}
}

func TestAvroEncoder_FileExtension(t *testing.T) {
	tests := []struct {
		compression string
		want        string
	}{
		{"gzip", ".avro.gz"},
		{"GZIP", ".avro.gz"},
		{"uncompressed", ".avro"},
		{"", ".avro"},
	}

	for _, tt := range tests {
		enc, err := NewAvroEncoder(tt.compression)
		if err != nil {
			t.Fatalf("NewAvroEncoder() error = %v", err)
		}
		if got := enc.FileExtension(); got != tt.want {
			t.Errorf("FileExtension(%q) = %v, want %v", tt.compression, got, tt.want)
		}
	}
}
