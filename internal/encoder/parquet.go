package encoder

import (
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/logdispatch/pkg/encoder"
	"github.com/jittakal/logdispatch/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

var parquetCodecs = map[string]parquet.WriterOption{
	"snappy":       parquet.Compression(&parquet.Snappy),
	"gzip":         parquet.Compression(&parquet.Gzip),
	"lz4":          parquet.Compression(&parquet.Lz4Raw),
	"zstd":         parquet.Compression(&parquet.Zstd),
	"uncompressed": parquet.Compression(&parquet.Uncompressed),
	"none":         parquet.Compression(&parquet.Uncompressed),
}

// ParquetEncoder writes one row per fragment, page-compressed with snappy
// (default), gzip, lz4 or zstd.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{compressionName: compression}
}

// compressionCodec maps a codec name to a writer option. Unknown names fall
// back to snappy.
func compressionCodec(compression string) parquet.WriterOption {
	if codec, ok := parquetCodecs[strings.ToLower(compression)]; ok {
		return codec
	}
	return parquetCodecs["snappy"]
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	return encodeFile(filePath, records, e.write)
}

func (e *ParquetEncoder) write(w io.Writer, records []event.Record) error {
	rows := make([]FragmentParquet, len(records))
	for i, record := range records {
		rows[i] = newRow(record)
	}

	writer := parquet.NewGenericWriter[FragmentParquet](w,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("logdispatch", "1.0", "0"),
	)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() event.FileFormat { return event.FormatParquet }

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string { return ".parquet" }
