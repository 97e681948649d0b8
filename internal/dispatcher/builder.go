package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/cursor"
	"github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	internalnotify "github.com/jittakal/logdispatch/internal/notify"
	"github.com/jittakal/logdispatch/pkg/notify"
	"github.com/jittakal/logdispatch/pkg/scheduler"
)

// Defaults applied by the builder.
const (
	DefaultBufferSize            = 1 << 20
	DefaultInitialPosition int64 = 1
	DefaultUpkeepInterval        = 10 * time.Millisecond

	maxPartitionSize = 1 << 30
)

// Mode selects how subscriptions relate to each other.
type Mode int

const (
	// ModePubSub lets every subscription read up to the publisher position.
	ModePubSub Mode = iota
	// ModePipeline lets each subscription read only what the subscription
	// opened before it has consumed.
	ModePipeline
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePubSub:
		return "pubsub"
	case ModePipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// ParseMode parses "pubsub" or "pipeline". An empty string is ModePubSub.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "pubsub":
		return ModePubSub, nil
	case "pipeline":
		return ModePipeline, nil
	default:
		return 0, fmt.Errorf("%w: unknown dispatcher mode %q", errors.ErrInvalidConfig, s)
	}
}

// HandlerPanicPolicy decides what a scan does with a fragment whose handler
// panicked.
type HandlerPanicPolicy int

const (
	// PanicConsume treats the fragment as consumed and continues the scan.
	PanicConsume HandlerPanicPolicy = iota
	// PanicMarkFailed sets the fragment's failed flag and continues the scan.
	PanicMarkFailed
	// PanicStop ends the scan before the fragment, leaving it unconsumed.
	PanicStop
)

// String returns the policy name.
func (p HandlerPanicPolicy) String() string {
	switch p {
	case PanicConsume:
		return "consume"
	case PanicMarkFailed:
		return "mark_failed"
	case PanicStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseHandlerPanicPolicy parses "consume", "mark_failed" or "stop". An empty
// string is PanicConsume.
func ParseHandlerPanicPolicy(s string) (HandlerPanicPolicy, error) {
	switch strings.ToLower(s) {
	case "", "consume":
		return PanicConsume, nil
	case "mark_failed", "mark-failed":
		return PanicMarkFailed, nil
	case "stop":
		return PanicStop, nil
	default:
		return 0, fmt.Errorf("%w: unknown handler panic policy %q", errors.ErrInvalidConfig, s)
	}
}

// Builder collects dispatcher options. A scheduler is required.
type Builder struct {
	scheduler         scheduler.Scheduler
	name              string
	bufferSize        int
	maxFragmentLength int
	initialPosition   int64
	subscriptions     []string
	mode              Mode
	allocator         logbuffer.Allocator
	signals           notify.Registry
	logger            *zap.Logger
	metrics           MetricsCollector
	panicPolicy       HandlerPanicPolicy
	upkeepInterval    time.Duration
}

// NewBuilder creates a builder running upkeep on sched.
func NewBuilder(sched scheduler.Scheduler) *Builder {
	return &Builder{
		scheduler:       sched,
		name:            "dispatcher",
		initialPosition: DefaultInitialPosition,
		upkeepInterval:  DefaultUpkeepInterval,
	}
}

// Name sets the diagnostic label used in logs and metrics.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// BufferSize sets the total size of the partitions in bytes.
func (b *Builder) BufferSize(size int) *Builder {
	b.bufferSize = size
	return b
}

// MaxFragmentLength sets the exclusive upper bound of a fragment payload.
// Without an explicit buffer size the partitions are sized from it.
func (b *Builder) MaxFragmentLength(length int) *Builder {
	b.maxFragmentLength = length
	return b
}

// InitialPosition sets the position the publisher starts from. Writing starts
// at the beginning of the partition the position belongs to.
func (b *Builder) InitialPosition(position int64) *Builder {
	b.initialPosition = position
	return b
}

// Subscriptions names the subscriptions opened, in order, by Start.
func (b *Builder) Subscriptions(names ...string) *Builder {
	b.subscriptions = append(b.subscriptions[:0:0], names...)
	return b
}

// Mode sets the subscription mode.
func (b *Builder) Mode(mode Mode) *Builder {
	b.mode = mode
	return b
}

// Allocator sets the memory allocator for the log buffer.
func (b *Builder) Allocator(allocator logbuffer.Allocator) *Builder {
	b.allocator = allocator
	return b
}

// Signals sets the registry the dispatcher signals data availability and
// consumption on.
func (b *Builder) Signals(signals notify.Registry) *Builder {
	b.signals = signals
	return b
}

// Logger sets the logger.
func (b *Builder) Logger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Metrics sets the metrics collector.
func (b *Builder) Metrics(metrics MetricsCollector) *Builder {
	b.metrics = metrics
	return b
}

// HandlerPanicPolicy sets what scans do when a handler panics.
func (b *Builder) HandlerPanicPolicy(policy HandlerPanicPolicy) *Builder {
	b.panicPolicy = policy
	return b
}

// UpkeepInterval sets the period of the background upkeep task.
func (b *Builder) UpkeepInterval(interval time.Duration) *Builder {
	b.upkeepInterval = interval
	return b
}

// sizing returns the partition size and the max fragment length.
func (b *Builder) sizing() (int32, int, error) {
	if b.bufferSize < 0 || b.maxFragmentLength < 0 {
		return 0, 0, fmt.Errorf("%w: buffer size %d and max fragment length %d must not be negative",
			errors.ErrInvalidConfig, b.bufferSize, b.maxFragmentLength)
	}

	var partitionSize int64
	switch {
	case b.bufferSize == 0 && b.maxFragmentLength > 0:
		partitionSize = 16 * int64(logbuffer.AlignedFramedLength(b.maxFragmentLength))
	default:
		bufferSize := b.bufferSize
		if bufferSize == 0 {
			bufferSize = DefaultBufferSize
		}
		partitionSize = int64(bufferSize/logbuffer.PartitionCount) &^ (logbuffer.FrameAlignment - 1)
	}
	if partitionSize > maxPartitionSize {
		return 0, 0, fmt.Errorf("%w: partition size %d exceeds %d",
			errors.ErrInvalidConfig, partitionSize, maxPartitionSize)
	}

	maxFragmentLength := b.maxFragmentLength
	if maxFragmentLength == 0 {
		maxFragmentLength = int(partitionSize / 16)
	}
	if int64(logbuffer.AlignedFramedLength(maxFragmentLength)) > partitionSize/2 {
		return 0, 0, fmt.Errorf("%w: max fragment length %d does not fit twice into partition size %d",
			errors.ErrInvalidConfig, maxFragmentLength, partitionSize)
	}
	return int32(partitionSize), maxFragmentLength, nil
}

// Build validates the options and allocates the log buffer.
func (b *Builder) Build() (*Dispatcher, error) {
	if b.scheduler == nil {
		return nil, errors.ErrSchedulerRequired
	}
	if b.initialPosition < 1 {
		return nil, fmt.Errorf("%w: initial position %d must be at least 1",
			errors.ErrInvalidConfig, b.initialPosition)
	}
	if b.upkeepInterval <= 0 {
		return nil, fmt.Errorf("%w: upkeep interval %s must be positive",
			errors.ErrInvalidConfig, b.upkeepInterval)
	}
	if b.mode != ModePubSub && b.mode != ModePipeline {
		return nil, fmt.Errorf("%w: unknown dispatcher mode %d", errors.ErrInvalidConfig, b.mode)
	}

	seen := make(map[string]struct{}, len(b.subscriptions))
	for _, name := range b.subscriptions {
		if _, ok := seen[name]; ok {
			return nil, &errors.SubscriptionError{Dispatcher: b.name, Name: name, Err: errors.ErrDuplicateSubscription}
		}
		seen[name] = struct{}{}
	}

	partitionSize, maxFragmentLength, err := b.sizing()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsCollector = nopMetrics{}
	if b.metrics != nil {
		metrics = b.metrics
	}
	signals := b.signals
	if signals == nil {
		signals = internalnotify.NewRegistry()
	}
	allocator := b.allocator
	if allocator == nil {
		allocator = logbuffer.HeapAllocator{}
	}

	arena, err := allocator.Allocate(int(partitionSize) * logbuffer.PartitionCount)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate log buffer: %w", err)
	}

	initialPartitionID := logbuffer.PartitionID(b.initialPosition)
	logBuffer, err := logbuffer.New(arena, partitionSize, initialPartitionID)
	if err != nil {
		_ = arena.Close()
		return nil, fmt.Errorf("failed to create log buffer: %w", err)
	}

	d := &Dispatcher{
		name:              b.name,
		logger:            logger.With(zap.String("dispatcher", b.name)),
		metrics:           metrics,
		scheduler:         b.scheduler,
		signals:           signals,
		mode:              b.mode,
		panicPolicy:       b.panicPolicy,
		upkeepInterval:    b.upkeepInterval,
		eager:             append([]string(nil), b.subscriptions...),
		logBuffer:         logBuffer,
		partitionSize:     partitionSize,
		maxFragmentLength: maxFragmentLength,
		maxBatchLength:    logbuffer.AlignedFramedLength(maxFragmentLength),
		windowLength:      partitionSize / 4,
	}

	start := logbuffer.Position(initialPartitionID, 0)
	d.publisherPosition = cursor.New(start)
	d.publisherLimit = cursor.New(d.addWindow(start))
	empty := []*Subscription{}
	d.subscriptions.Store(&empty)

	d.logger.Info("dispatcher created",
		zap.Int32("partition_size", partitionSize),
		zap.Int("max_fragment_length", maxFragmentLength),
		zap.Int32("window_length", d.windowLength),
		zap.Int32("initial_partition", initialPartitionID),
		zap.Stringer("mode", b.mode),
	)
	return d, nil
}
