// Package encoder defines how batches of archived fragments become files.
package encoder

import "github.com/jittakal/logdispatch/pkg/event"

// Encoder writes a batch of archived fragments as one file. Implementations
// hold no per-file state.
type Encoder interface {
	// Encode writes records to filePath, replacing any existing file. An
	// empty batch is an error.
	Encode(filePath string, records []event.Record) (*event.FileStats, error)

	Format() event.FileFormat

	// FileExtension includes the leading dot and any outer compression
	// suffix, e.g. ".avro.gz".
	FileExtension() string
}
