package encoder

import (
	"fmt"
	"io"
	"os"

	"github.com/jittakal/logdispatch/pkg/event"
)

// encodeFile creates filePath, lets write fill it and reports the size on
// disk. The write window in the stats spans the records' archive times.
func encodeFile(filePath string, records []event.Record, write func(io.Writer, []event.Record) error) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	if err := write(file, records); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	stats := &event.FileStats{
		RecordCount:    len(records),
		SizeBytes:      info.Size(),
		FirstWriteTime: records[0].ArchivedAt,
		LastWriteTime:  records[0].ArchivedAt,
	}
	for _, record := range records[1:] {
		if record.ArchivedAt.Before(stats.FirstWriteTime) {
			stats.FirstWriteTime = record.ArchivedAt
		}
		if record.ArchivedAt.After(stats.LastWriteTime) {
			stats.LastWriteTime = record.ArchivedAt
		}
	}
	return stats, nil
}
