// Package generator produces synthetic CloudEvents and appends them to a
// dispatcher at a fixed rate. It stands in for real producers in local runs
// and load tests.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/jaswdr/faker"
	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	internalnotify "github.com/jittakal/logdispatch/internal/notify"
	"github.com/jittakal/logdispatch/pkg/notify"
)

// Target is the producer side of a dispatcher.
type Target interface {
	Claim(claim *logbuffer.ClaimedFragment, length int, streamID int32) (int64, error)
	Signals() notify.Registry
	Name() string
}

var _ Target = (*dispatcher.Dispatcher)(nil)

// MetricsCollector defines metrics operations for the generator.
type MetricsCollector interface {
	IncEventsGenerated(dispatcher, eventType, status string)
}

type nopMetrics struct{}

func (nopMetrics) IncEventsGenerated(string, string, string) {}

// Config configures the generator.
type Config struct {
	RatePerSecond int
	StreamIDs     []int32
	Source        string
	EventType     string
	// MaxEvents stops the generator after that many events. Zero runs until
	// the context is done.
	MaxEvents int
	// BackpressureWait bounds one wait for consumers to free space.
	BackpressureWait time.Duration
}

// SampleData is the payload of a generated event.
type SampleData struct {
	Sequence  int64     `json:"sequence"`
	StreamID  int32     `json:"streamId"`
	OrderID   string    `json:"orderId"`
	Customer  string    `json:"customer"`
	Email     string    `json:"email"`
	City      string    `json:"city"`
	Product   string    `json:"product"`
	Quantity  int       `json:"quantity"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// Generator claims one fragment per event, round robin over the stream ids.
type Generator struct {
	target  Target
	config  Config
	faker   faker.Faker
	logger  *zap.Logger
	metrics MetricsCollector

	consumed   *internalnotify.Waiter
	unregister func()

	claim    logbuffer.ClaimedFragment
	sequence int64
}

// New creates a generator appending to target.
func New(config Config, target Target, logger *zap.Logger, metrics MetricsCollector) (*Generator, error) {
	if config.RatePerSecond <= 0 {
		return nil, fmt.Errorf("invalid generator rate: %d", config.RatePerSecond)
	}
	if len(config.StreamIDs) == 0 {
		return nil, fmt.Errorf("generator needs at least one stream id")
	}
	if config.Source == "" {
		config.Source = "logdispatch/generator"
	}
	if config.EventType == "" {
		config.EventType = "io.logdispatch.sample"
	}
	if config.BackpressureWait <= 0 {
		config.BackpressureWait = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	consumed := internalnotify.NewWaiter()
	return &Generator{
		target:     target,
		config:     config,
		faker:      faker.New(),
		logger:     logger.With(zap.String("dispatcher", target.Name())),
		metrics:    metrics,
		consumed:   consumed,
		unregister: target.Signals().Register(notify.DataConsumed, consumed.Notify),
	}, nil
}

// Event builds the next event without appending it.
func (g *Generator) Event(streamID int32) cloudevents.Event {
	g.sequence++
	now := time.Now().UTC()

	ce := cloudevents.NewEvent()
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetID(uuid.New().String())
	ce.SetType(g.config.EventType)
	ce.SetSource(g.config.Source)
	ce.SetSubject(fmt.Sprintf("stream/%d", streamID))
	ce.SetTime(now)

	data := SampleData{
		Sequence:  g.sequence,
		StreamID:  streamID,
		OrderID:   "O" + g.faker.UUID().V4()[0:8],
		Customer:  g.faker.Person().Name(),
		Email:     g.faker.Internet().Email(),
		City:      g.faker.Address().City(),
		Product:   g.faker.Lorem().Word(),
		Quantity:  g.faker.IntBetween(1, 10),
		Amount:    float64(g.faker.IntBetween(100, 100000)) / 100,
		CreatedAt: now,
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		g.logger.Error("failed to set event data", zap.Error(err))
	}
	return ce
}

// Append encodes an event and appends it as one fragment. It waits while
// the dispatcher is at its limit and returns the fragment's end position.
func (g *Generator) Append(ctx context.Context, ce cloudevents.Event, streamID int32) (int64, error) {
	payload, err := json.Marshal(ce)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	for {
		// Armed before the claim so a consume between the two is not lost.
		wake := g.consumed.C()

		position, err := g.target.Claim(&g.claim, len(payload), streamID)
		if err != nil {
			g.metrics.IncEventsGenerated(g.target.Name(), ce.Type(), "rejected")
			return 0, err
		}

		switch position {
		case dispatcher.ResultPartitionRolled:
			continue
		case dispatcher.ResultLimitReached:
			g.metrics.IncEventsGenerated(g.target.Name(), ce.Type(), "backpressure")
			timer := time.NewTimer(g.config.BackpressureWait)
			select {
			case <-wake:
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return 0, ctx.Err()
			}
			timer.Stop()
			continue
		}

		copy(g.claim.Buffer(), payload)
		g.claim.Commit()
		g.metrics.IncEventsGenerated(g.target.Name(), ce.Type(), "committed")
		return position, nil
	}
}

// Run appends events at the configured rate until ctx is done or
// MaxEvents is reached.
func (g *Generator) Run(ctx context.Context) error {
	defer g.unregister()

	interval := time.Second / time.Duration(g.config.RatePerSecond)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("generator started",
		zap.Int("rate_per_second", g.config.RatePerSecond),
		zap.Int("streams", len(g.config.StreamIDs)),
	)

	for n := 0; g.config.MaxEvents == 0 || n < g.config.MaxEvents; n++ {
		select {
		case <-ctx.Done():
			g.logger.Info("generator stopped", zap.Int("events", n))
			return nil
		case <-ticker.C:
		}

		streamID := g.config.StreamIDs[n%len(g.config.StreamIDs)]
		ce := g.Event(streamID)
		position, err := g.Append(ctx, ce, streamID)
		if err != nil {
			if ctx.Err() != nil {
				g.logger.Info("generator stopped", zap.Int("events", n))
				return nil
			}
			return fmt.Errorf("append event %s: %w", ce.ID(), err)
		}

		g.logger.Debug("generated event",
			zap.String("event_id", ce.ID()),
			zap.Int32("stream_id", streamID),
			zap.Int64("position", position),
		)
	}

	g.logger.Info("generator reached max events", zap.Int("events", g.config.MaxEvents))
	return nil
}
