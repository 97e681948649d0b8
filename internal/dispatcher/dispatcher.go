// Package dispatcher implements the log buffer dispatcher: a single-writer,
// multi-reader ring of framed fragments with claim/commit writes, broadcast
// subscriptions and write-side backpressure bound to the slowest reader.
package dispatcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/cursor"
	"github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/pkg/notify"
	"github.com/jittakal/logdispatch/pkg/scheduler"
)

// Claim results that are not positions.
const (
	// ResultLimitReached means the publisher limit was reached. Retry after
	// subscriptions have consumed data.
	ResultLimitReached int64 = -1
	// ResultPartitionRolled means the active partition was full and the
	// writer moved to the next one. Retry immediately.
	ResultPartitionRolled int64 = -2
)

// Lifecycle states.
const (
	stateCreated int32 = iota
	stateStarted
	stateClosing
	stateClosed
)

var stateNames = [...]string{"created", "started", "closing", "closed"}

// Dispatcher is the writer-facing side of the log buffer. Claims may be
// issued from any goroutine; each Subscription must be read by one goroutine
// at a time.
type Dispatcher struct {
	name           string
	logger         *zap.Logger
	metrics        MetricsCollector
	scheduler      scheduler.Scheduler
	signals        notify.Registry
	mode           Mode
	panicPolicy    HandlerPanicPolicy
	upkeepInterval time.Duration
	eager          []string

	logBuffer         *logbuffer.LogBuffer
	appender          logbuffer.Appender
	partitionSize     int32
	maxFragmentLength int
	maxBatchLength    int32
	windowLength      int32

	// claimMu serialises reservations, partition rolls and cleaning.
	claimMu           sync.Mutex
	publisherPosition *cursor.Cursor
	publisherLimit    *cursor.Cursor
	recordCount       atomic.Int64

	// subsMu serialises registry changes and upkeep. It is taken before
	// claimMu.
	subsMu        sync.Mutex
	subscriptions atomic.Pointer[[]*Subscription]
	nextSubID     int32

	state              atomic.Int32
	upkeepPending      atomic.Bool
	cancelUpkeep       func()
	unregisterConsumed func()
}

// Name returns the diagnostic label.
func (d *Dispatcher) Name() string { return d.name }

// Signals returns the registry DataAvailable and DataConsumed are signalled on.
func (d *Dispatcher) Signals() notify.Registry { return d.signals }

// MaxFragmentLength returns the exclusive upper bound of a fragment payload.
func (d *Dispatcher) MaxFragmentLength() int { return d.maxFragmentLength }

// PartitionSize returns the size of one partition.
func (d *Dispatcher) PartitionSize() int32 { return d.partitionSize }

// WindowLength returns how far the publisher may run ahead of the slowest
// subscription.
func (d *Dispatcher) WindowLength() int32 { return d.windowLength }

// Mode returns the subscription mode.
func (d *Dispatcher) Mode() Mode { return d.mode }

func (d *Dispatcher) isClosing() bool {
	return d.state.Load() >= stateClosing
}

// Start opens the configured subscriptions and schedules upkeep. Starting a
// started dispatcher does nothing.
func (d *Dispatcher) Start() error {
	if !d.state.CompareAndSwap(stateCreated, stateStarted) {
		if d.isClosing() {
			return errors.ErrDispatcherClosed
		}
		return nil
	}

	for _, name := range d.eager {
		if _, err := d.OpenSubscription(name); err != nil {
			return fmt.Errorf("failed to open subscription %q: %w", name, err)
		}
	}

	d.unregisterConsumed = d.signals.Register(notify.DataConsumed, d.requestUpkeep)
	d.cancelUpkeep = d.scheduler.SubmitPeriodic(d.name+"-upkeep", d.upkeepInterval, d.upkeep)
	d.requestUpkeep()

	d.logger.Info("dispatcher started",
		zap.Int("subscriptions", len(d.eager)),
		zap.Duration("upkeep_interval", d.upkeepInterval),
	)
	return nil
}

// Claim reserves a fragment of length payload bytes tagged with streamID and
// binds claim to it. It returns the position just past the fragment, or
// ResultLimitReached or ResultPartitionRolled without reserving anything.
// The caller writes the payload into claim.Buffer and then commits or aborts.
func (d *Dispatcher) Claim(claim *logbuffer.ClaimedFragment, length int, streamID int32) (int64, error) {
	if length < 0 {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: length, Err: errors.ErrInvalidConfig}
	}
	if length >= d.maxFragmentLength {
		d.metrics.IncClaims(d.name, claimTooLarge)
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: length, Err: errors.ErrFragmentTooLarge}
	}
	if claim.IsOpen() {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: length, Err: errors.ErrClaimInUse}
	}

	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	if d.isClosing() {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: length, Err: errors.ErrDispatcherClosed}
	}

	partition, ok := d.admit()
	if !ok {
		d.metrics.IncClaims(d.name, claimLimitReached)
		return ResultLimitReached, nil
	}

	if !d.logBuffer.Pin() {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: length, Err: errors.ErrDispatcherClosed}
	}
	newTail, err := d.appender.Claim(partition, claim, length, streamID, d.claimDone)
	if err != nil {
		d.logBuffer.Unpin()
		d.rollPartition(partition.ID())
		return ResultPartitionRolled, nil
	}
	return d.published(partition.ID(), newTail, 1), nil
}

// ClaimBatch reserves one region for fragmentCount fragments holding
// totalLength payload bytes between them and binds batch to it. Results are
// the same as for Claim.
func (d *Dispatcher) ClaimBatch(batch *logbuffer.ClaimedFragmentBatch, fragmentCount, totalLength int) (int64, error) {
	if fragmentCount <= 0 || totalLength < 0 {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: totalLength,
			Err: fmt.Errorf("%w: batch of %d fragments", errors.ErrInvalidConfig, fragmentCount)}
	}
	batchLength := logbuffer.BatchLength(fragmentCount, totalLength)
	if batchLength > d.maxBatchLength {
		d.metrics.IncClaims(d.name, claimTooLarge)
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: totalLength, Err: errors.ErrFragmentTooLarge}
	}
	if batch.IsOpen() {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: totalLength, Err: errors.ErrClaimInUse}
	}

	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	if d.isClosing() {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: totalLength, Err: errors.ErrDispatcherClosed}
	}

	partition, ok := d.admit()
	if !ok {
		d.metrics.IncClaims(d.name, claimLimitReached)
		return ResultLimitReached, nil
	}

	if !d.logBuffer.Pin() {
		return 0, &errors.ClaimError{Dispatcher: d.name, Length: totalLength, Err: errors.ErrDispatcherClosed}
	}
	newTail, err := d.appender.ClaimBatch(partition, batch, fragmentCount, batchLength, d.claimDone)
	if err != nil {
		d.logBuffer.Unpin()
		d.rollPartition(partition.ID())
		return ResultPartitionRolled, nil
	}
	return d.published(partition.ID(), newTail, int64(fragmentCount)), nil
}

// admit returns the active partition if the next write position is below
// the publisher limit. Callers hold claimMu.
func (d *Dispatcher) admit() (*logbuffer.Partition, bool) {
	limit := d.publisherLimit.Get()
	partition := d.logBuffer.ActivePartition()
	position := logbuffer.Position(partition.ID(), partition.Tail())
	return partition, position < limit
}

// rollPartition moves the writer past a full partition. The partition's
// remainder is already padding, so the padding becomes readable. Callers
// hold claimMu.
func (d *Dispatcher) rollPartition(fullPartitionID int32) {
	next := d.logBuffer.AdvanceActivePartition()
	d.publisherPosition.ProposeMaxOrdered(logbuffer.Position(next, 0))
	d.metrics.IncClaims(d.name, claimPartitionRolled)
	d.metrics.IncPartitionRolls(d.name)
	d.signals.SignalAll(notify.DataAvailable)

	d.logger.Debug("partition rolled",
		zap.Int32("full_partition", fullPartitionID),
		zap.Int32("active_partition", next),
	)
}

// published raises the publisher position after a successful reservation.
// Callers hold claimMu.
func (d *Dispatcher) published(partitionID, newTail int32, records int64) int64 {
	position := logbuffer.Position(partitionID, newTail)
	d.publisherPosition.ProposeMaxOrdered(position)
	d.recordCount.Add(records)
	d.metrics.IncClaims(d.name, claimOK)
	d.signals.SignalAll(notify.DataAvailable)
	return position
}

// claimDone runs after a claim is committed or aborted. It releases the
// claim's pin on the log buffer and wakes readers stopped at the frame.
func (d *Dispatcher) claimDone() {
	d.logBuffer.Unpin()
	d.signals.SignalAll(notify.DataAvailable)
}

// PublisherPosition returns the position just past the last reservation, or
// -1 once the dispatcher is closing.
func (d *Dispatcher) PublisherPosition() int64 {
	if d.isClosing() {
		return cursor.Invalid
	}
	return d.publisherPosition.Get()
}

// PublisherLimit returns the position claims must start below.
func (d *Dispatcher) PublisherLimit() int64 {
	if d.isClosing() {
		return cursor.Invalid
	}
	return d.publisherLimit.Get()
}

// RecordCount returns the number of fragments claimed so far.
func (d *Dispatcher) RecordCount() int64 {
	return d.recordCount.Load()
}

// OpenSubscription registers a named subscription. In pub/sub mode it starts
// at the publisher position; in pipeline mode it starts at, and reads up to,
// the position of the subscription opened before it.
func (d *Dispatcher) OpenSubscription(name string) (*Subscription, error) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	if d.isClosing() {
		return nil, &errors.SubscriptionError{Dispatcher: d.name, Name: name, Err: errors.ErrDispatcherClosed}
	}

	current := *d.subscriptions.Load()
	for _, s := range current {
		if s.name == name {
			return nil, &errors.SubscriptionError{Dispatcher: d.name, Name: name, Err: errors.ErrDuplicateSubscription}
		}
	}

	limit := d.publisherPosition
	if d.mode == ModePipeline && len(current) > 0 {
		limit = current[len(current)-1].position
	}

	d.nextSubID++
	s := newSubscription(d, d.nextSubID, name, limit.Get(), limit)

	updated := make([]*Subscription, len(current), len(current)+1)
	copy(updated, current)
	updated = append(updated, s)
	d.subscriptions.Store(&updated)

	d.metrics.SetSubscriptions(d.name, len(updated))
	d.logger.Info("subscription opened",
		zap.String("subscription", name),
		zap.Int32("subscription_id", s.id),
		zap.Int64("position", s.Position()),
	)

	d.requestUpkeep()
	return s, nil
}

// CloseSubscription removes s from the limit computation. Closing a closed
// subscription, or any subscription while the dispatcher is closing, does
// nothing.
func (d *Dispatcher) CloseSubscription(s *Subscription) error {
	if s == nil || s.dispatcher != d {
		return &errors.SubscriptionError{Dispatcher: d.name, Err: errors.ErrSubscriptionNotFound}
	}

	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	if d.isClosing() || s.IsClosed() {
		return nil
	}

	current := *d.subscriptions.Load()
	index := -1
	for i, candidate := range current {
		if candidate == s {
			index = i
			break
		}
	}
	if index < 0 {
		return &errors.SubscriptionError{Dispatcher: d.name, Name: s.name, Err: errors.ErrSubscriptionNotFound}
	}

	// The next pipeline stage inherits the closed stage's limit.
	if d.mode == ModePipeline && index+1 < len(current) {
		current[index+1].limit.Store(s.limit.Load())
	}

	updated := make([]*Subscription, 0, len(current)-1)
	updated = append(updated, current[:index]...)
	updated = append(updated, current[index+1:]...)
	d.subscriptions.Store(&updated)
	s.closed.Store(true)

	d.metrics.SetSubscriptions(d.name, len(updated))
	d.logger.Info("subscription closed",
		zap.String("subscription", s.name),
		zap.Int64("position", s.Position()),
	)

	d.requestUpkeep()
	return nil
}

// Subscription returns the open subscription called name.
func (d *Dispatcher) Subscription(name string) (*Subscription, bool) {
	for _, s := range *d.subscriptions.Load() {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// Subscriptions returns the open subscriptions in the order they were opened.
func (d *Dispatcher) Subscriptions() []*Subscription {
	current := *d.subscriptions.Load()
	return append([]*Subscription(nil), current...)
}

// Close resets the publisher cursors, closes every subscription and
// releases the log buffer. Memory still referenced by open claims or block
// peeks is released when the last of them is committed, aborted or marked.
func (d *Dispatcher) Close() error {
	d.claimMu.Lock()
	previous := d.state.Load()
	if previous >= stateClosing {
		d.claimMu.Unlock()
		return nil
	}
	d.state.Store(stateClosing)
	d.claimMu.Unlock()

	if d.cancelUpkeep != nil {
		d.cancelUpkeep()
	}
	if d.unregisterConsumed != nil {
		d.unregisterConsumed()
	}

	d.subsMu.Lock()
	current := *d.subscriptions.Load()
	for _, s := range current {
		s.closed.Store(true)
	}
	empty := []*Subscription{}
	d.subscriptions.Store(&empty)
	d.subsMu.Unlock()

	d.publisherPosition.Reset()
	d.publisherLimit.Reset()

	err := d.logBuffer.Close()
	d.state.Store(stateClosed)

	// Wake readers and writers waiting on the registry so they observe the
	// closed state.
	d.signals.SignalAll(notify.DataAvailable)
	d.signals.SignalAll(notify.DataConsumed)

	d.logger.Info("dispatcher closed",
		zap.String("previous_state", stateNames[previous]),
		zap.Int("subscriptions_closed", len(current)),
		zap.Int64("records", d.recordCount.Load()),
	)
	if err != nil {
		return fmt.Errorf("failed to release log buffer: %w", err)
	}
	return nil
}

// State returns the lifecycle state name.
func (d *Dispatcher) State() string {
	return stateNames[d.state.Load()]
}

// distance returns the number of bytes between two positions.
func (d *Dispatcher) distance(from, to int64) int64 {
	partitions := int64(logbuffer.PartitionID(to)) - int64(logbuffer.PartitionID(from))
	offsets := int64(logbuffer.PartitionOffset(to)) - int64(logbuffer.PartitionOffset(from))
	return partitions*int64(d.partitionSize) + offsets
}

// addWindow returns position moved forward by the window length.
func (d *Dispatcher) addWindow(position int64) int64 {
	partitionID := logbuffer.PartitionID(position)
	offset := logbuffer.PartitionOffset(position) + d.windowLength
	if offset >= d.partitionSize {
		partitionID++
		offset -= d.partitionSize
	}
	return logbuffer.Position(partitionID, offset)
}
