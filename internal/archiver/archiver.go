// Package archiver copies a subscription's fragments into per-stream
// buffers and writes them to object storage when a rotation policy fires.
package archiver

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/errors"
	internalnotify "github.com/jittakal/logdispatch/internal/notify"
	"github.com/jittakal/logdispatch/pkg/buffer"
	"github.com/jittakal/logdispatch/pkg/event"
	"github.com/jittakal/logdispatch/pkg/fragment"
	"github.com/jittakal/logdispatch/pkg/notify"
	"github.com/jittakal/logdispatch/pkg/storage"
)

// Source is the block reading side of a dispatcher subscription.
type Source interface {
	Name() string
	PeekBlock(peek *dispatcher.BlockPeek, maxBlockSize int, streamAware bool) int
}

var _ Source = (*dispatcher.Subscription)(nil)

// MetricsCollector defines metrics operations for the archiver.
type MetricsCollector interface {
	AddRecordsArchived(dispatcher string, streamID int32, count int)
	SetBufferStats(dispatcher string, streamID int32, bytes int64, records int)
}

type nopMetrics struct{}

func (nopMetrics) AddRecordsArchived(string, int32, int)    {}
func (nopMetrics) SetBufferStats(string, int32, int64, int) {}

// Config configures the archive loop.
type Config struct {
	// Dispatcher names the dispatcher in records and storage paths.
	Dispatcher    string
	MaxBlockBytes int
	StreamAware   bool
	// PollInterval bounds one wait for new data and is the period of the
	// age based rotation check.
	PollInterval time.Duration
	Format       event.FileFormat
}

// Sink groups where flushed buffers go.
type Sink struct {
	Writer storage.Writer
	Router storage.Router
	Policy storage.RotationPolicy
}

// Archiver drives a subscription with block peeks. A block is marked
// completed once all its fragments are buffered, so archived data is only
// durable after the next flush.
type Archiver struct {
	source  Source
	buffers buffer.Manager
	sink    Sink
	config  Config
	logger  *zap.Logger
	metrics MetricsCollector

	available  *internalnotify.Waiter
	unregister func()

	peek dispatcher.BlockPeek
	// archived is the end position of the last buffered or dropped
	// fragment. Fragments peeked again at or below it are skipped.
	archived int64
	now      func() time.Time
}

// New creates an archiver reading source. signals is the owning
// dispatcher's registry.
func New(
	config Config,
	source Source,
	signals notify.Registry,
	buffers buffer.Manager,
	sink Sink,
	logger *zap.Logger,
	metrics MetricsCollector,
) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if config.MaxBlockBytes <= 0 {
		config.MaxBlockBytes = 64 * 1024
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Millisecond
	}
	if config.Format == "" {
		config.Format = event.FormatParquet
	}

	available := internalnotify.NewWaiter()
	return &Archiver{
		source:     source,
		buffers:    buffers,
		sink:       sink,
		config:     config,
		logger:     logger.With(zap.String("subscription", source.Name())),
		metrics:    metrics,
		available:  available,
		unregister: signals.Register(notify.DataAvailable, available.Notify),
		now:        time.Now,
	}
}

// Run archives until ctx is done, then flushes every buffer.
func (a *Archiver) Run(ctx context.Context) error {
	defer a.unregister()

	a.logger.Info("archiver started", zap.Int("max_block_bytes", a.config.MaxBlockBytes))
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		wake := a.available.C()
		n, err := a.Poll(ctx)
		if err != nil {
			a.logger.Warn("archive poll failed", zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			err := a.FlushAll(context.WithoutCancel(ctx))
			a.logger.Info("archiver stopped")
			return err
		case <-wake:
		case <-ticker.C:
			if err := a.FlushDue(ctx); err != nil {
				a.logger.Warn("rotation flush failed", zap.Error(err))
			}
		}
	}
}

// Poll buffers one block. It returns the number of fragments handled. A
// storage failure releases the block so it is peeked again; fragments
// buffered before the failure are not buffered twice.
func (a *Archiver) Poll(ctx context.Context) (int, error) {
	if a.source.PeekBlock(&a.peek, a.config.MaxBlockBytes, a.config.StreamAware) == 0 {
		return 0, nil
	}

	records := a.records()
	for i, record := range records {
		err := a.add(ctx, record)
		if stderrors.Is(err, errors.ErrBufferFull) {
			// add flushed the stream first, so even an empty buffer cannot
			// hold it. The fragment stays untouched in the log for other
			// subscriptions.
			a.logger.Error("dropping fragment that does not fit an empty buffer",
				zap.Int64("position", record.Position),
				zap.Int32("stream_id", record.StreamID),
				zap.Int("payload_size", len(record.Payload)),
			)
			a.archived = record.Position
			continue
		}
		if err != nil {
			a.peek.Release()
			return i, err
		}
	}

	a.peek.MarkCompleted()
	return len(records), nil
}

// records copies the fragments of the peeked block that were not buffered
// by an earlier attempt.
func (a *Archiver) records() []event.Record {
	archivedAt := a.now().UTC()

	var records []event.Record
	a.peek.Fragments(func(f fragment.Fragment) bool {
		if f.Position <= a.archived {
			return true
		}
		record := event.Record{
			Dispatcher: a.config.Dispatcher,
			Position:   f.Position,
			StreamID:   f.StreamID,
			Failed:     f.Failed,
			Payload:    append([]byte(nil), f.Payload...),
			ArchivedAt: archivedAt,
		}
		if ce, err := event.DecodeCloudEvent(record.Payload); err == nil {
			record.Event = ce
		}
		records = append(records, record)
		return true
	})
	return records
}

// add buffers one record, flushing the stream when it is full or due.
func (a *Archiver) add(ctx context.Context, record event.Record) error {
	key := record.Key()
	buf := a.buffers.GetOrCreate(key)

	err := buf.Add(record)
	if stderrors.Is(err, errors.ErrBufferFull) {
		if err := a.flush(ctx, key, buf); err != nil {
			return err
		}
		err = buf.Add(record)
	}
	if err != nil {
		return err
	}
	a.archived = record.Position

	if a.sink.Policy.ShouldRotate(buf.Stats()) {
		// The record is buffered; a failed flush is retried on the next tick.
		if err := a.flush(ctx, key, buf); err != nil {
			a.logger.Warn("rotation flush failed", zap.String("stream", key.String()), zap.Error(err))
		}
		return nil
	}
	a.reportBuffer(key, buf)
	return nil
}

// FlushDue flushes the buffers whose rotation policy has fired.
func (a *Archiver) FlushDue(ctx context.Context) error {
	var errs []error
	for _, key := range a.buffers.Keys() {
		buf := a.buffers.GetOrCreate(key)
		if a.sink.Policy.ShouldRotate(buf.Stats()) {
			if err := a.flush(ctx, key, buf); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return stderrors.Join(errs...)
}

// FlushAll flushes every non-empty buffer.
func (a *Archiver) FlushAll(ctx context.Context) error {
	var errs []error
	for _, key := range a.buffers.Keys() {
		if err := a.flush(ctx, key, a.buffers.GetOrCreate(key)); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// flush writes a stream's buffered records as one file. On failure the
// records are put back so the next flush retries them.
func (a *Archiver) flush(ctx context.Context, key event.StreamKey, buf buffer.Buffer) error {
	records := buf.Drain()
	if len(records) == 0 {
		return nil
	}

	path := a.sink.Router.Route(key, records[0].GetEventTimeUnix())
	if _, err := a.sink.Writer.Write(ctx, records, path, a.config.Format); err != nil {
		for _, record := range records {
			if addErr := buf.Add(record); addErr != nil {
				// The records came out of this buffer under the same limits.
				a.logger.Error("failed to rebuffer record after storage failure",
					zap.String("stream", key.String()),
					zap.Int64("position", record.Position),
					zap.Error(addErr),
				)
			}
		}
		a.reportBuffer(key, buf)
		return &errors.StorageError{Path: path, Operation: "write", Err: err}
	}

	a.metrics.AddRecordsArchived(key.Dispatcher, key.StreamID, len(records))
	a.reportBuffer(key, buf)
	a.logger.Debug("flushed stream buffer",
		zap.String("stream", key.String()),
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return nil
}

func (a *Archiver) reportBuffer(key event.StreamKey, buf buffer.Buffer) {
	stats := buf.Stats()
	a.metrics.SetBufferStats(key.Dispatcher, key.StreamID, stats.SizeBytes, stats.RecordCount)
}
