package dispatcher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jittakal/logdispatch/internal/logbuffer"
)

// SubscriptionStats is a snapshot of one subscription.
type SubscriptionStats struct {
	ID       int32
	Name     string
	Position int64
	Limit    int64
	// Lag is the number of bytes between the subscription and the publisher.
	Lag int64
}

// Stats is a snapshot of a dispatcher.
type Stats struct {
	Name              string
	State             string
	Mode              string
	PublisherPosition int64
	PublisherLimit    int64
	ActivePartition   int32
	RecordsClaimed    int64
	Subscriptions     []SubscriptionStats
}

// Stats returns a snapshot of the dispatcher and its subscriptions.
func (d *Dispatcher) Stats() Stats {
	stats := Stats{
		Name:              d.name,
		State:             d.State(),
		Mode:              d.mode.String(),
		PublisherPosition: d.PublisherPosition(),
		PublisherLimit:    d.PublisherLimit(),
		RecordsClaimed:    d.recordCount.Load(),
	}
	if d.isClosing() {
		return stats
	}

	stats.ActivePartition = logbuffer.PartitionID(stats.PublisherPosition)
	for _, s := range *d.subscriptions.Load() {
		position := s.Position()
		stats.Subscriptions = append(stats.Subscriptions, SubscriptionStats{
			ID:       s.id,
			Name:     s.name,
			Position: position,
			Limit:    s.Limit(),
			Lag:      d.distance(position, stats.PublisherPosition),
		})
	}
	return stats
}

// HealthChecker reports dispatcher health to the HTTP health endpoints.
type HealthChecker struct {
	dispatcher *Dispatcher
}

// NewHealthChecker creates a health checker for d.
func NewHealthChecker(d *Dispatcher) *HealthChecker {
	return &HealthChecker{dispatcher: d}
}

// Liveness is false once the dispatcher has been closed.
func (h *HealthChecker) Liveness() bool {
	return !h.dispatcher.isClosing()
}

// Readiness is true while the dispatcher is started.
func (h *HealthChecker) Readiness(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return h.dispatcher.state.Load() == stateStarted
}

// IsHealthy reports whether the dispatcher is started.
func (h *HealthChecker) IsHealthy() bool {
	return h.dispatcher.state.Load() == stateStarted
}

// GetStatus returns the dispatcher state and per-subscription lag.
func (h *HealthChecker) GetStatus() map[string]string {
	stats := h.dispatcher.Stats()
	status := map[string]string{
		"dispatcher":      stats.State,
		"records_claimed": strconv.FormatInt(stats.RecordsClaimed, 10),
		"subscriptions":   strconv.Itoa(len(stats.Subscriptions)),
	}
	for _, s := range stats.Subscriptions {
		status[fmt.Sprintf("subscription.%s.lag_bytes", s.Name)] = strconv.FormatInt(s.Lag, 10)
	}
	return status
}
