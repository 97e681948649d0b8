package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/pkg/event"
	"github.com/jittakal/logdispatch/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for local filesystem storage.
// Routed paths are resolved below BasePath.
type FileWriter struct {
	base
	basePath string
	mu       sync.Mutex
	closed   bool
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	format event.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	b, err := newBase("file", format, compression, logger, metrics)
	if err != nil {
		return nil, err
	}

	b.logger.Info("filesystem writer created",
		zap.String("base_path", config.BasePath),
		zap.String("format", string(format)),
		zap.String("compression", compression),
	)

	return &FileWriter{
		base:     b,
		basePath: config.BasePath,
	}, nil
}

// Write writes records to the filesystem.
func (w *FileWriter) Write(
	ctx context.Context,
	records []event.Record,
	path string,
	format event.FileFormat,
) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.ErrWriterClosed
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	startTime := time.Now()

	fileEncoder, err := w.encoder()
	if err != nil {
		return 0, err
	}

	dir := filepath.Join(w.basePath, strings.TrimPrefix(path, "file://"))
	fullPath := filepath.Join(dir, fileName(records, fileEncoder.FileExtension(), startTime))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.metrics.IncStorageErrors(w.backend, "mkdir")
		w.failed(records, format)
		return 0, &errors.StorageError{Operation: "create", Path: dir, Err: err}
	}

	stats, err := fileEncoder.Encode(fullPath, records)
	if err != nil {
		w.metrics.IncStorageErrors(w.backend, "encode")
		w.failed(records, format)
		return 0, &errors.StorageError{Operation: "write", Path: fullPath, Err: err}
	}

	w.written(records, format, fullPath, stats, startTime)
	return stats.SizeBytes, nil
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.logger.Info("closing filesystem writer")
	return nil
}
