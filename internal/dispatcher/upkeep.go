package dispatcher

import (
	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/logbuffer"
)

// requestUpkeep schedules one upkeep run unless one is already queued.
func (d *Dispatcher) requestUpkeep() {
	if d.state.Load() != stateStarted {
		return
	}
	if d.upkeepPending.CompareAndSwap(false, true) {
		d.scheduler.Run(d.upkeep)
	}
}

// upkeep recycles partitions every subscription has left behind and moves
// the publisher limit to the slowest subscription plus the window. Cleaning
// happens first so the writer never reaches a slot that still holds old
// data.
func (d *Dispatcher) upkeep() {
	d.upkeepPending.Store(false)

	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	if d.state.Load() != stateStarted {
		return
	}

	publisherPosition := d.publisherPosition.Get()
	base := publisherPosition
	subs := *d.subscriptions.Load()
	for _, s := range subs {
		position := s.position.Get()
		if position < base {
			base = position
		}
		d.metrics.SetSubscriptionLag(d.name, s.name, d.distance(position, publisherPosition))
	}

	d.claimMu.Lock()
	cleaned := d.logBuffer.CleanPartitions(logbuffer.PartitionID(base))
	d.claimMu.Unlock()

	limit := d.addWindow(base)
	d.publisherLimit.ProposeMaxOrdered(limit)

	if cleaned > 0 {
		d.metrics.AddPartitionsCleaned(d.name, cleaned)
		d.logger.Debug("partitions cleaned",
			zap.Int("cleaned", cleaned),
			zap.Int32("below_partition", logbuffer.PartitionID(base)),
		)
	}
	d.metrics.SetPublisherWindow(d.name, d.distance(publisherPosition, d.publisherLimit.Get()))
}
