// Package encoder provides archive encoding of fragments to various file formats.
//
// Every encoder writes the same logical row per fragment: dispatcher name,
// log position (also split into partition id and offset), stream id, failed
// flag, raw payload and, for payloads that decode as CloudEvents, the event
// attributes. Event columns are NULL for opaque payloads.
//
// # Formats
//
//   - Parquet: columnar, compressed with snappy (default), gzip, lz4 or zstd
//   - Avro: OCF container with the schema embedded, optionally gzipped as a whole
//
// Use Factory when the format comes from configuration:
//
//	factory := encoder.NewFactory(event.FormatParquet, "snappy")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    return err
//	}
//	stats, err := enc.Encode(filePath, records)
//
// Encoders hold no per-file state and may be shared.
package encoder
