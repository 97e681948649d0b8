package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/errors"
)

// DLQRecord is the JSON envelope written to a dead letter topic.
type DLQRecord struct {
	OriginalPayload  []byte    `json:"original_payload"`
	OriginalTopic    string    `json:"original_topic"`
	StreamID         int32     `json:"stream_id"`
	Position         int64     `json:"position,omitempty"`
	KafkaOffset      int64     `json:"kafka_offset,omitempty"`
	FailureReason    string    `json:"failure_reason"`
	FailureTimestamp time.Time `json:"failure_timestamp"`
	ProcessorID      string    `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	TopicSuffix string
}

// DLQ publishes fragments that cannot be delivered to "<topic><suffix>".
// The producer is owned by the caller.
type DLQ struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	processorID string
	logger      *zap.Logger
	metrics     MetricsCollector

	mu     sync.RWMutex
	closed bool
}

// NewDLQ creates a dead letter publisher on producer.
func NewDLQ(
	producer sarama.SyncProducer,
	config DLQConfig,
	processorID string,
	logger *zap.Logger,
	metrics MetricsCollector,
) *DLQ {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if config.TopicSuffix == "" {
		config.TopicSuffix = "-dlq"
	}
	return &DLQ{
		producer:    producer,
		config:      config,
		processorID: processorID,
		logger:      logger,
		metrics:     metrics,
	}
}

// Topic returns the dead letter topic for topic.
func (d *DLQ) Topic(topic string) string {
	return topic + d.config.TopicSuffix
}

// Publish sends record to the dead letter topic of record.OriginalTopic.
func (d *DLQ) Publish(record DLQRecord) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return errors.ErrClientClosed
	}

	record.ProcessorID = d.processorID
	if record.FailureTimestamp.IsZero() {
		record.FailureTimestamp = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ record: %w", err)
	}

	dlqTopic := d.Topic(record.OriginalTopic)
	msg := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Key:   sarama.StringEncoder(strconv.Itoa(int(record.StreamID))),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(record.FailureReason)},
			{Key: []byte("original_topic"), Value: []byte(record.OriginalTopic)},
			{Key: []byte("processor_id"), Value: []byte(d.processorID)},
		},
		Timestamp: record.FailureTimestamp,
	}

	partition, offset, err := d.producer.SendMessage(msg)
	if err != nil {
		d.logger.Error("failed to publish to DLQ",
			zap.String("dlq_topic", dlqTopic),
			zap.Int32("stream_id", record.StreamID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	d.metrics.IncDLQMessages(dlqTopic, record.FailureReason)
	d.logger.Info("published fragment to DLQ",
		zap.String("dlq_topic", dlqTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Int32("stream_id", record.StreamID),
		zap.String("reason", record.FailureReason),
	)
	return nil
}

// Close stops further publishing. It does not close the producer.
func (d *DLQ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	return nil
}
