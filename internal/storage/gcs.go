package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/pkg/event"
	pkgstorage "github.com/jittakal/logdispatch/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	base
	client *storage.Client
	bucket string
	mu     sync.Mutex
}

// clientOptions resolves authentication in order: default credentials,
// inline JSON, credentials file.
func (cfg GCSConfig) clientOptions() ([]option.ClientOption, string) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.UseDefaultCredential:
		return opts, "default"
	case cfg.CredentialsJSON != "":
		return append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))), "json"
	case cfg.CredentialsFile != "":
		return append(opts, option.WithCredentialsFile(cfg.CredentialsFile)), "file"
	default:
		return opts, "default"
	}
}

// contentType returns the object content type for a file format.
func contentType(format event.FileFormat) string {
	if format == event.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	cfg GCSConfig,
	format event.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	b, err := newBase("gcs", format, compression, logger, metrics)
	if err != nil {
		return nil, err
	}

	opts, auth := cfg.clientOptions()
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	b.logger.Info("GCS writer created",
		zap.String("bucket", cfg.Bucket),
		zap.String("project_id", cfg.ProjectID),
		zap.String("credentials", auth),
		zap.String("format", string(format)),
		zap.String("compression", compression),
	)

	return &GCSWriter{
		base:   b,
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Write writes records to Google Cloud Storage.
func (w *GCSWriter) Write(
	ctx context.Context,
	records []event.Record,
	path string,
	format event.FileFormat,
) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	enc, err := w.encoder()
	if err != nil {
		return 0, err
	}

	objectPath := objectKey(path, "gs", fileName(records, enc.FileExtension(), startTime))

	tempFile, stats, err := w.encodeTemp(enc, records)
	if err != nil {
		w.failed(records, format)
		return 0, err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		w.metrics.IncStorageErrors(w.backend, "file_open")
		w.failed(records, format)
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	gcsWriter := w.client.Bucket(w.bucket).Object(objectPath).NewWriter(ctx)
	gcsWriter.ContentType = contentType(format)

	if _, err := io.Copy(gcsWriter, file); err != nil {
		w.metrics.IncStorageErrors(w.backend, "upload")
		w.failed(records, format)
		gcsWriter.Close()
		return 0, &errors.StorageError{Operation: "upload", Path: objectPath, Err: err}
	}

	// Close finalizes the upload.
	if err := gcsWriter.Close(); err != nil {
		w.metrics.IncStorageErrors(w.backend, "close")
		w.failed(records, format)
		return 0, &errors.StorageError{Operation: "upload", Path: objectPath, Err: err}
	}

	w.written(records, format, fmt.Sprintf("gs://%s/%s", w.bucket, objectPath), stats, startTime)
	return stats.SizeBytes, nil
}

// Close closes the GCS writer.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
