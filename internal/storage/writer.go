// Package storage implements archive writers for the file, S3, GCS and
// Azure Blob backends, plus the path router and rotation policy.
package storage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/encoder"
	pkgencoder "github.com/jittakal/logdispatch/pkg/encoder"
	"github.com/jittakal/logdispatch/pkg/event"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(dispatcher string, streamID int32, format string, status string)
	ObserveFileSize(dispatcher string, streamID int32, format string, size float64)
	ObserveStorageWriteDuration(dispatcher string, streamID int32, duration float64)
	IncStorageErrors(backend string, operation string)
}

type nopMetrics struct{}

func (nopMetrics) IncFilesWritten(string, int32, string, string)      {}
func (nopMetrics) ObserveFileSize(string, int32, string, float64)     {}
func (nopMetrics) ObserveStorageWriteDuration(string, int32, float64) {}
func (nopMetrics) IncStorageErrors(string, string)                    {}

// base carries what every backend shares: the encoder factory, logging and
// metrics.
type base struct {
	backend        string
	encoderFactory *encoder.Factory
	logger         *zap.Logger
	metrics        MetricsCollector
}

func newBase(backend string, format event.FileFormat, compression string, logger *zap.Logger, metrics MetricsCollector) (base, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return base{}, fmt.Errorf("failed to create encoder: %w", err)
	}

	return base{
		backend:        backend,
		encoderFactory: encoderFactory,
		logger:         logger.With(zap.String("backend", backend)),
		metrics:        metrics,
	}, nil
}

func (b *base) encoder() (pkgencoder.Encoder, error) {
	enc, err := b.encoderFactory.CreateEncoder()
	if err != nil {
		b.metrics.IncStorageErrors(b.backend, "encoder_create")
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return enc, nil
}

// encodeTemp encodes records into a temporary file. The caller removes it.
func (b *base) encodeTemp(enc pkgencoder.Encoder, records []event.Record) (string, *event.FileStats, error) {
	tmp, err := os.CreateTemp("", b.backend+"-upload-*"+enc.FileExtension())
	if err != nil {
		b.metrics.IncStorageErrors(b.backend, "temp_file")
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp.Close()

	stats, err := enc.Encode(tmp.Name(), records)
	if err != nil {
		os.Remove(tmp.Name())
		b.metrics.IncStorageErrors(b.backend, "encode")
		return "", nil, fmt.Errorf("failed to encode records: %w", err)
	}
	return tmp.Name(), stats, nil
}

// written records the metrics and log line for one successful file.
func (b *base) written(records []event.Record, format event.FileFormat, location string, stats *event.FileStats, started time.Time) {
	duration := time.Since(started)
	first := records[0]

	b.logger.Info("wrote records",
		zap.String("location", location),
		zap.String("dispatcher", first.Dispatcher),
		zap.Int32("stream_id", first.StreamID),
		zap.Int("record_count", stats.RecordCount),
		zap.Int64("file_size", stats.SizeBytes),
		zap.String("format", string(format)),
		zap.Int64("total_duration_ms", duration.Milliseconds()),
	)

	b.metrics.IncFilesWritten(first.Dispatcher, first.StreamID, string(format), "success")
	b.metrics.ObserveFileSize(first.Dispatcher, first.StreamID, string(format), float64(stats.SizeBytes))
	b.metrics.ObserveStorageWriteDuration(first.Dispatcher, first.StreamID, duration.Seconds())
}

func (b *base) failed(records []event.Record, format event.FileFormat) {
	if len(records) > 0 {
		b.metrics.IncFilesWritten(records[0].Dispatcher, records[0].StreamID, string(format), "failure")
	}
}

// fileName names an archive file after the first fragment it holds, so
// names are unique per stream and sort in log order within a second.
// Format: fragments_YYYYMMDD_HHMMSS_<position hex><ext>
func fileName(records []event.Record, ext string, now time.Time) string {
	return fmt.Sprintf("fragments_%s_%016x%s",
		now.UTC().Format("20060102_150405"),
		uint64(records[0].Position),
		ext,
	)
}

// objectKey strips "<scheme>://<bucket>/" from a routed path and appends
// the file name.
func objectKey(path, scheme, name string) string {
	key := path
	if strings.HasPrefix(path, scheme+"://") {
		parts := strings.SplitN(strings.TrimPrefix(path, scheme+"://"), "/", 2)
		if len(parts) == 2 {
			key = parts[1]
		} else {
			key = ""
		}
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return strings.TrimLeft(key+name, "/")
}
