package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/pkg/event"
)

// mockMetricsCollector implements MetricsCollector for testing
type mockMetricsCollector struct {
	filesWritten       int
	fileSizes          []float64
	storageDurations   []float64
	storageErrors      int
	lastFileStatus     string
	lastDispatcher     string
	lastStreamID       int32
	lastFormat         string
	lastErrorBackend   string
	lastErrorOperation string
}

func (m *mockMetricsCollector) IncFilesWritten(dispatcher string, streamID int32, format string, status string) {
	m.filesWritten++
	m.lastDispatcher = dispatcher
	m.lastStreamID = streamID
	m.lastFormat = format
	m.lastFileStatus = status
}

func (m *mockMetricsCollector) ObserveFileSize(dispatcher string, streamID int32, format string, size float64) {
	m.fileSizes = append(m.fileSizes, size)
}

func (m *mockMetricsCollector) ObserveStorageWriteDuration(dispatcher string, streamID int32, duration float64) {
	m.storageDurations = append(m.storageDurations, duration)
}

func (m *mockMetricsCollector) IncStorageErrors(backend string, operation string) {
	m.storageErrors++
	m.lastErrorBackend = backend
	m.lastErrorOperation = operation
}

func testRecords(n int) []event.Record {
	records := make([]event.Record, n)
	for i := range records {
		records[i] = event.Record{
			Dispatcher: "orders",
			Position:   logbuffer.Position(2, int32(i*32)),
			StreamID:   7,
			Payload:    []byte("fragment"),
			ArchivedAt: time.Now(),
		}
	}
	return records
}

func TestNewFileWriter(t *testing.T) {
	tests := []struct {
		name        string
		format      event.FileFormat
		compression string
		wantErr     bool
	}{
		{"parquet", event.FormatParquet, "snappy", false},
		{"avro", event.FormatAvro, "gzip", false},
		{"unsupported format", event.FileFormat("csv"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			basePath := filepath.Join(t.TempDir(), "archive")
			w, err := NewFileWriter(FileConfig{BasePath: basePath}, tt.format, tt.compression, zap.NewNop(), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFileWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer w.Close()

			if _, err := os.Stat(basePath); err != nil {
				t.Errorf("base path not created: %v", err)
			}
		})
	}
}

func TestFileWriter_Write(t *testing.T) {
	basePath := t.TempDir()
	metrics := &mockMetricsCollector{}

	w, err := NewFileWriter(FileConfig{BasePath: basePath}, event.FormatParquet, "snappy", zap.NewNop(), metrics)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	defer w.Close()

	router := NewRouter("file", "", "")
	records := testRecords(3)
	path := router.Route(records[0].Key(), time.Date(2025, 12, 21, 0, 0, 0, 0, time.UTC).Unix())

	size, err := w.Write(context.Background(), records, path, event.FormatParquet)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if size <= 0 {
		t.Errorf("Write() size = %d, want > 0", size)
	}

	dir := filepath.Join(basePath, "orders", "dt=2025-12-21", "stream=7")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", dir, err)
	}
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "fragments_") || !strings.HasSuffix(name, "_0000000200000000.parquet") {
		t.Errorf("file name = %s, want fragments_<ts>_0000000200000000.parquet", name)
	}

	if metrics.filesWritten != 1 || metrics.lastFileStatus != "success" {
		t.Errorf("files written = %d status = %s, want 1 success", metrics.filesWritten, metrics.lastFileStatus)
	}
	if metrics.lastDispatcher != "orders" || metrics.lastStreamID != 7 {
		t.Errorf("metrics labels = %s/%d, want orders/7", metrics.lastDispatcher, metrics.lastStreamID)
	}
	if len(metrics.fileSizes) != 1 || metrics.fileSizes[0] != float64(size) {
		t.Errorf("file sizes = %v, want [%d]", metrics.fileSizes, size)
	}
}

func TestFileWriter_WriteEmpty(t *testing.T) {
	w, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, event.FormatAvro, "gzip", nil, nil)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	if _, err := w.Write(context.Background(), nil, "file:///x/", event.FormatAvro); err == nil {
		t.Error("Write(nil) error = nil, want error")
	}
}

func TestFileWriter_Close(t *testing.T) {
	w, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, event.FormatParquet, "snappy", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = w.Write(context.Background(), testRecords(1), "file:///orders/", event.FormatParquet)
	if !errors.Is(err, apperrors.ErrWriterClosed) {
		t.Errorf("Write() after Close error = %v, want ErrWriterClosed", err)
	}
}

func TestFileWriter_CancelledContext(t *testing.T) {
	w, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, event.FormatParquet, "snappy", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Write(ctx, testRecords(1), "file:///orders/", event.FormatParquet); !errors.Is(err, context.Canceled) {
		t.Errorf("Write() error = %v, want context.Canceled", err)
	}
}
