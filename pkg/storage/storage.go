// Package storage defines where archived fragment files go and when a
// stream's pending file is cut.
//
// Backends live in internal/storage: S3, GCS, Azure Blob and the local
// filesystem.
package storage

import (
	"context"

	"github.com/jittakal/logdispatch/pkg/event"
)

// Writer uploads one encoded file per call.
type Writer interface {
	// Write encodes records in format and stores them as a new file under
	// the routed path prefix. It returns the encoded size in bytes.
	Write(ctx context.Context, records []event.Record, path string, format event.FileFormat) (int64, error)

	Close() error
}

// Router maps a stream and an event time to an object key prefix.
type Router interface {
	// Route takes the time as Unix seconds.
	Route(key event.StreamKey, timestamp int64) string
}

// RotationPolicy decides when a stream's buffer is flushed.
type RotationPolicy interface {
	ShouldRotate(stats event.FileStats) bool
}
