package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/errors"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	internalnotify "github.com/jittakal/logdispatch/internal/notify"
	"github.com/jittakal/logdispatch/internal/validator"
	"github.com/jittakal/logdispatch/pkg/notify"
)

// ClaimTarget is the producer side of a dispatcher.
type ClaimTarget interface {
	Claim(claim *logbuffer.ClaimedFragment, length int, streamID int32) (int64, error)
	Signals() notify.Registry
	Name() string
}

var _ ClaimTarget = (*dispatcher.Dispatcher)(nil)

// IngestConfig contains Kafka consumer group configuration.
type IngestConfig struct {
	SecurityConfig
	BootstrapServers    []string
	GroupID             string
	Topics              []string
	AutoOffsetReset     string
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	// BackpressureWait bounds one wait for consumers to free space.
	BackpressureWait time.Duration
	// ValidateCloudEvents routes messages that are not structured
	// CloudEvents to the dead letter topic instead of the dispatcher.
	ValidateCloudEvents bool
}

// Ingestor consumes Kafka messages and claims one fragment per message. The
// fragment's stream id is the Kafka partition. Offsets are marked only after
// the fragment is committed, so a crash re-delivers rather than drops.
type Ingestor struct {
	group   sarama.ConsumerGroup
	target  ClaimTarget
	config  IngestConfig
	dlq     *DLQ
	logger  *zap.Logger
	metrics MetricsCollector

	validator  *validator.CloudEventsValidator
	consumed   *internalnotify.Waiter
	unregister func()

	mu     sync.RWMutex
	closed bool
}

// NewIngestor creates a consumer group that appends to target. dlq may be
// nil; messages too large for the dispatcher are then skipped.
func NewIngestor(
	config IngestConfig,
	target ClaimTarget,
	dlq *DLQ,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*Ingestor, error) {
	saramaConfig, err := newConsumerConfig(config)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	i := newIngestor(group, config, target, dlq, logger, metrics)
	i.logger.Info("kafka ingestor created",
		zap.String("group_id", config.GroupID),
		zap.Strings("bootstrap_servers", config.BootstrapServers),
		zap.Strings("topics", config.Topics),
		zap.String("dispatcher", target.Name()),
	)
	return i, nil
}

func newIngestor(
	group sarama.ConsumerGroup,
	config IngestConfig,
	target ClaimTarget,
	dlq *DLQ,
	logger *zap.Logger,
	metrics MetricsCollector,
) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if config.BackpressureWait <= 0 {
		config.BackpressureWait = 100 * time.Millisecond
	}

	consumed := internalnotify.NewWaiter()
	i := &Ingestor{
		group:      group,
		target:     target,
		config:     config,
		dlq:        dlq,
		logger:     logger,
		metrics:    metrics,
		consumed:   consumed,
		unregister: target.Signals().Register(notify.DataConsumed, consumed.Notify),
	}
	if config.ValidateCloudEvents {
		i.validator = validator.NewCloudEventsValidator()
	}
	return i
}

func newConsumerConfig(config IngestConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Return.Errors = true

	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}
	// A claim can block on backpressure; keep the partition until it clears.
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	if err := configureSecurity(saramaConfig, config.SecurityConfig); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	if autoOffsetReset == "earliest" {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

// Run consumes until ctx is done or the group fails. Rebalances restart the
// session.
func (i *Ingestor) Run(ctx context.Context) error {
	i.mu.RLock()
	closed := i.closed
	i.mu.RUnlock()
	if closed {
		return errors.ErrClientClosed
	}

	go func() {
		for err := range i.group.Errors() {
			i.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	handler := &ingestHandler{ingestor: i}
	for {
		if err := i.group.Consume(ctx, i.config.Topics, handler); err != nil {
			if stderrors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consumer group consume: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group and releases resources.
func (i *Ingestor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	i.unregister()

	i.logger.Info("closing kafka ingestor")
	if err := i.group.Close(); err != nil {
		i.logger.Error("error closing consumer group", zap.Error(err))
		return err
	}
	return nil
}

// append claims and commits one fragment holding value. It waits on
// backpressure and retries partition rolls. The returned position is the
// fragment's end position.
func (i *Ingestor) append(ctx context.Context, claim *logbuffer.ClaimedFragment, topic string, value []byte, streamID int32) (int64, error) {
	for {
		// Armed before the claim so a consume between the two is not lost.
		wake := i.consumed.C()

		position, err := i.target.Claim(claim, len(value), streamID)
		if err != nil {
			return 0, err
		}

		switch position {
		case dispatcher.ResultPartitionRolled:
			continue
		case dispatcher.ResultLimitReached:
			i.metrics.IncIngestBackpressure(topic)
			timer := time.NewTimer(i.config.BackpressureWait)
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

		copy(claim.Buffer(), value)
		claim.Commit()
		return position, nil
	}
}

// deadLetter routes a message that will never be appended. It returns false
// when the message must be retried by a later session.
func (i *Ingestor) deadLetter(message *sarama.ConsumerMessage, reason string, cause error) bool {
	i.logger.Warn("rejecting message",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.String("reason", reason),
		zap.Bool("dead_lettered", i.dlq != nil),
		zap.Error(cause),
	)
	if i.dlq == nil {
		return true
	}

	err := i.dlq.Publish(DLQRecord{
		OriginalPayload: message.Value,
		OriginalTopic:   message.Topic,
		StreamID:        message.Partition,
		KafkaOffset:     message.Offset,
		FailureReason:   reason,
	})
	return err == nil
}

// ingestHandler implements sarama.ConsumerGroupHandler.
type ingestHandler struct {
	ingestor       *Ingestor
	rebalanceStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *ingestHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.rebalanceStart = time.Now()
	i := h.ingestor

	i.logger.Info("consumer group session setup",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation_id", session.GenerationID()),
	)

	i.metrics.IncRebalances(i.config.GroupID)
	for topic, partitions := range session.Claims() {
		i.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
	}
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *ingestHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	i := h.ingestor
	if !h.rebalanceStart.IsZero() {
		i.metrics.ObserveRebalanceDuration(i.config.GroupID, time.Since(h.rebalanceStart).Seconds())
	}

	i.logger.Info("consumer group session cleanup", zap.String("member_id", session.MemberID()))
	return nil
}

// ConsumeClaim appends a partition's messages to the dispatcher in order.
func (h *ingestHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	i := h.ingestor
	ctx := session.Context()

	i.logger.Info("started consuming partition",
		zap.String("topic", claim.Topic()),
		zap.Int32("partition", claim.Partition()),
		zap.Int64("initial_offset", claim.InitialOffset()),
	)

	var fragment logbuffer.ClaimedFragment
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if i.validator != nil {
				if _, err := i.validator.Validate(message.Value); err != nil {
					if !i.deadLetter(message, "validation_failed", err) {
						return nil
					}
					session.MarkMessage(message, "")
					i.metrics.IncOffsetCommits(message.Topic, message.Partition, "skipped")
					continue
				}
			}

			position, err := i.append(ctx, &fragment, message.Topic, message.Value, message.Partition)
			switch {
			case err == nil:
			case stderrors.Is(err, errors.ErrFragmentTooLarge):
				if !i.deadLetter(message, "fragment_too_large", err) {
					return nil
				}
			case ctx.Err() != nil:
				return nil
			default:
				// Dispatcher closed; leave the offset for the next owner.
				i.logger.Error("failed to claim fragment",
					zap.String("topic", message.Topic),
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
				return err
			}

			session.MarkMessage(message, "")
			i.metrics.IncMessagesConsumed(message.Topic, message.Partition)
			i.metrics.IncOffsetCommits(message.Topic, message.Partition, "marked")

			i.logger.Debug("ingested kafka message",
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Int64("position", position),
				zap.Int("value_size", len(message.Value)),
			)

		case <-ctx.Done():
			return nil
		}
	}
}
