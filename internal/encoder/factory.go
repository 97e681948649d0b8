package encoder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jittakal/logdispatch/pkg/encoder"
	"github.com/jittakal/logdispatch/pkg/event"
)

// codecs lists the compression codecs each format accepts. The first entry
// is the default.
var codecs = map[event.FileFormat][]string{
	event.FormatParquet: {"snappy", "uncompressed", "gzip", "lz4", "zstd"},
	event.FormatAvro:    {"gzip", "uncompressed"},
}

// Factory builds archive encoders for one format and codec.
type Factory struct {
	format      event.FileFormat
	compression string
}

// NewFactory creates a factory. An empty compression selects the format's
// default codec.
func NewFactory(format event.FileFormat, compression string) *Factory {
	compression = strings.ToLower(compression)
	if compression == "" {
		compression = DefaultCompression(format)
	}
	return &Factory{format: format, compression: compression}
}

// Compression returns the codec the factory's encoders use.
func (f *Factory) Compression() string { return f.compression }

// CreateEncoder returns an encoder for the configured format. A codec the
// format does not support is an error rather than a silent fallback.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	supported, ok := codecs[f.format]
	if !ok {
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
	if !slices.Contains(supported, f.compression) {
		return nil, fmt.Errorf("unsupported %s compression %q (supported: %s)",
			f.format, f.compression, strings.Join(supported, ", "))
	}

	if f.format == event.FormatAvro {
		return NewAvroEncoder(f.compression)
	}
	return NewParquetEncoder(f.compression), nil
}

// ParseFormat maps a configured format name to a file format. An empty name
// is Parquet.
func ParseFormat(name string) (event.FileFormat, error) {
	switch strings.ToLower(name) {
	case "", string(event.FormatParquet):
		return event.FormatParquet, nil
	case string(event.FormatAvro):
		return event.FormatAvro, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", name)
	}
}

// SupportedFormats returns the archive formats.
func SupportedFormats() []event.FileFormat {
	return []event.FileFormat{event.FormatParquet, event.FormatAvro}
}

// SupportedCompressions returns the codecs accepted for format.
func SupportedCompressions(format event.FileFormat) []string {
	return slices.Clone(codecs[format])
}

// DefaultCompression returns the default codec for format, or
// "uncompressed" for an unknown format.
func DefaultCompression(format event.FileFormat) string {
	if supported, ok := codecs[format]; ok {
		return supported[0]
	}
	return "uncompressed"
}
