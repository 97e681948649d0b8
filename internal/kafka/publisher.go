package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/errors"
	internalnotify "github.com/jittakal/logdispatch/internal/notify"
	"github.com/jittakal/logdispatch/pkg/fragment"
	"github.com/jittakal/logdispatch/pkg/notify"
)

// Source is the consumer side of a dispatcher subscription.
type Source interface {
	Name() string
	PeekAndConsume(h fragment.Handler, maxFragments int) int
}

var _ Source = (*dispatcher.Subscription)(nil)

// PublisherConfig configures the publish loop.
type PublisherConfig struct {
	Topic        string
	MaxFragments int
	// IdleWait bounds one wait for new data, and the backoff after a
	// postponed send.
	IdleWait time.Duration
}

// Publisher forwards a subscription's fragments to a Kafka topic, keyed by
// stream id. A failed send postpones the fragment so it is retried in order.
// Fragments already marked failed go to the dead letter topic.
type Publisher struct {
	producer sarama.SyncProducer
	source   Source
	config   PublisherConfig
	dlq      *DLQ
	logger   *zap.Logger
	metrics  MetricsCollector

	available  *internalnotify.Waiter
	unregister func()
	postponed  bool
}

var _ fragment.Handler = (*Publisher)(nil)

// NewPublisher creates a publisher reading source. signals is the owning
// dispatcher's registry. dlq may be nil, in which case failed fragments are
// skipped.
func NewPublisher(
	config PublisherConfig,
	producer sarama.SyncProducer,
	source Source,
	signals notify.Registry,
	dlq *DLQ,
	logger *zap.Logger,
	metrics MetricsCollector,
) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if config.MaxFragments <= 0 {
		config.MaxFragments = 256
	}
	if config.IdleWait <= 0 {
		config.IdleWait = 10 * time.Millisecond
	}

	available := internalnotify.NewWaiter()
	return &Publisher{
		producer:   producer,
		source:     source,
		config:     config,
		dlq:        dlq,
		logger:     logger.With(zap.String("subscription", source.Name()), zap.String("topic", config.Topic)),
		metrics:    metrics,
		available:  available,
		unregister: signals.Register(notify.DataAvailable, available.Notify),
	}
}

// Run publishes until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.unregister()

	p.logger.Info("kafka publisher started")
	for {
		wake := p.available.C()
		n, postponed := p.Poll()
		if n > 0 && !postponed {
			continue
		}

		timer := time.NewTimer(p.config.IdleWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("kafka publisher stopped")
			return nil
		case <-wake:
			if postponed {
				<-timer.C
			}
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Poll runs one scan. It returns the number of fragments handled and whether
// the scan stopped on a postponed fragment.
func (p *Publisher) Poll() (int, bool) {
	p.postponed = false
	n := p.source.PeekAndConsume(p, p.config.MaxFragments)
	return n, p.postponed
}

// OnFragment implements fragment.Handler.
func (p *Publisher) OnFragment(f fragment.Fragment) fragment.Result {
	if f.Failed {
		return p.deadLetter(f, "marked_failed")
	}

	started := time.Now()
	msg := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(strconv.Itoa(int(f.StreamID))),
		// Payload aliases the log buffer.
		Value: sarama.ByteEncoder(append([]byte(nil), f.Payload...)),
		Headers: []sarama.RecordHeader{
			{Key: []byte("position"), Value: []byte(strconv.FormatInt(f.Position, 10))},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		p.metrics.IncMessagesPublished(p.config.Topic, "failure")

		pubErr := &errors.PublishError{Topic: p.config.Topic, Position: f.Position, Err: classify(err)}
		if !errors.IsRetryable(pubErr) {
			p.logger.Warn("fragment rejected by broker", zap.Int64("position", f.Position), zap.Error(pubErr))
			if p.deadLetter(f, "rejected") == fragment.Postpone {
				return fragment.Postpone
			}
			return fragment.Failed
		}

		p.logger.Warn("publish failed, postponing", zap.Int64("position", f.Position), zap.Error(pubErr))
		p.postponed = true
		return fragment.Postpone
	}

	p.metrics.IncMessagesPublished(p.config.Topic, "success")
	p.metrics.ObservePublishLatency(p.config.Topic, time.Since(started).Seconds())
	return fragment.Consume
}

func (p *Publisher) deadLetter(f fragment.Fragment, reason string) fragment.Result {
	if p.dlq == nil {
		return fragment.Consume
	}

	err := p.dlq.Publish(DLQRecord{
		OriginalPayload: append([]byte(nil), f.Payload...),
		OriginalTopic:   p.config.Topic,
		StreamID:        f.StreamID,
		Position:        f.Position,
		FailureReason:   reason,
	})
	if err != nil {
		p.postponed = true
		return fragment.Postpone
	}
	return fragment.Consume
}

// classify maps broker rejections that will never succeed to
// ErrFragmentTooLarge.
func classify(err error) error {
	if stderrors.Is(err, sarama.ErrMessageSizeTooLarge) || stderrors.Is(err, sarama.ErrInvalidMessage) {
		return fmt.Errorf("%w: %v", errors.ErrFragmentTooLarge, err)
	}
	return err
}
