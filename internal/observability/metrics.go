package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Dispatcher metrics
	Claims            *prometheus.CounterVec
	PartitionRolls    *prometheus.CounterVec
	PartitionsCleaned *prometheus.CounterVec
	PublisherWindow   *prometheus.GaugeVec
	Subscriptions     *prometheus.GaugeVec
	SubscriptionLag   *prometheus.GaugeVec
	FragmentsConsumed *prometheus.CounterVec
	HandlerPanics     *prometheus.CounterVec
	BlockPeekSize     *prometheus.HistogramVec

	// Kafka ingest metrics
	MessagesConsumed   *prometheus.CounterVec
	IngestBackpressure *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec

	// Kafka publish metrics
	MessagesPublished *prometheus.CounterVec
	PublishLatency    *prometheus.HistogramVec
	DLQMessages       *prometheus.CounterVec

	// Archive metrics
	RecordsArchived      *prometheus.CounterVec
	BufferSize           *prometheus.GaugeVec
	BufferRecordCount    *prometheus.GaugeVec
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec

	// Generator metrics
	EventsGenerated *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Dispatcher metrics
		Claims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_claims_total",
				Help: "Total number of claim attempts by result",
			},
			[]string{"dispatcher", "result"},
		),
		PartitionRolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_partition_rolls_total",
				Help: "Total number of times the publisher moved to the next partition",
			},
			[]string{"dispatcher"},
		),
		PartitionsCleaned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_partitions_cleaned_total",
				Help: "Total number of partitions cleaned for reuse",
			},
			[]string{"dispatcher"},
		),
		PublisherWindow: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatcher_publisher_window_bytes",
				Help: "Bytes the publisher may still write before hitting its limit",
			},
			[]string{"dispatcher"},
		),
		Subscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatcher_subscriptions",
				Help: "Number of open subscriptions",
			},
			[]string{"dispatcher"},
		),
		SubscriptionLag: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatcher_subscription_lag_bytes",
				Help: "Bytes between a subscription position and the publisher position",
			},
			[]string{"dispatcher", "subscription"},
		),
		FragmentsConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_fragments_consumed_total",
				Help: "Total number of fragments delivered to subscriptions by handler result",
			},
			[]string{"dispatcher", "subscription", "result"},
		),
		HandlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_handler_panics_total",
				Help: "Total number of recovered fragment handler panics",
			},
			[]string{"dispatcher", "subscription"},
		),
		BlockPeekSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatcher_block_peek_bytes",
				Help:    "Size of blocks returned by block peeks",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
			},
			[]string{"dispatcher", "subscription"},
		),

		// Kafka ingest metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		IngestBackpressure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_ingest_backpressure_total",
				Help: "Total number of times ingest waited on the publisher limit",
			},
			[]string{"topic"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),

		// Kafka publish metrics
		MessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_published_total",
				Help: "Total number of fragments published to Kafka",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_publish_latency_seconds",
				Help:    "Latency of synchronous produce requests",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"topic"},
		),
		DLQMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_dlq_messages_total",
				Help: "Total number of fragments routed to the dead letter topic",
			},
			[]string{"topic", "reason"},
		),

		// Archive metrics
		RecordsArchived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_records_total",
				Help: "Total number of fragments buffered for archiving",
			},
			[]string{"dispatcher", "stream"},
		),
		BufferSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_size_bytes",
				Help: "Current buffer size in bytes",
			},
			[]string{"dispatcher", "stream"},
		),
		BufferRecordCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_record_count",
				Help: "Current number of records in buffer",
			},
			[]string{"dispatcher", "stream"},
		),
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_written_total",
				Help: "Total number of files written to storage",
			},
			[]string{"dispatcher", "stream", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of complete storage write operations including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"dispatcher", "stream"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "file_size_bytes",
				Help:    "Size of files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"dispatcher", "stream", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),

		// Generator metrics
		EventsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generator_events_total",
				Help: "Total number of generated events by claim outcome",
			},
			[]string{"dispatcher", "type", "status"},
		),
	}
}

// IncClaims increments the claim counter for a result.
func (m *Metrics) IncClaims(dispatcher, result string) {
	m.Claims.WithLabelValues(dispatcher, result).Inc()
}

// IncPartitionRolls increments partition rolls counter.
func (m *Metrics) IncPartitionRolls(dispatcher string) {
	m.PartitionRolls.WithLabelValues(dispatcher).Inc()
}

// AddPartitionsCleaned adds to the cleaned partitions counter.
func (m *Metrics) AddPartitionsCleaned(dispatcher string, count int) {
	m.PartitionsCleaned.WithLabelValues(dispatcher).Add(float64(count))
}

// SetPublisherWindow sets the remaining publisher window gauge.
func (m *Metrics) SetPublisherWindow(dispatcher string, bytes int64) {
	m.PublisherWindow.WithLabelValues(dispatcher).Set(float64(bytes))
}

// SetSubscriptions sets the open subscriptions gauge.
func (m *Metrics) SetSubscriptions(dispatcher string, count int) {
	m.Subscriptions.WithLabelValues(dispatcher).Set(float64(count))
}

// SetSubscriptionLag sets subscription lag gauge.
func (m *Metrics) SetSubscriptionLag(dispatcher, subscription string, bytes int64) {
	m.SubscriptionLag.WithLabelValues(dispatcher, subscription).Set(float64(bytes))
}

// AddFragmentsConsumed adds to the fragments consumed counter.
func (m *Metrics) AddFragmentsConsumed(dispatcher, subscription, result string, count int) {
	m.FragmentsConsumed.WithLabelValues(dispatcher, subscription, result).Add(float64(count))
}

// IncHandlerPanics increments handler panics counter.
func (m *Metrics) IncHandlerPanics(dispatcher, subscription string) {
	m.HandlerPanics.WithLabelValues(dispatcher, subscription).Inc()
}

// ObserveBlockPeeked observes the size of a peeked block.
func (m *Metrics) ObserveBlockPeeked(dispatcher, subscription string, bytes int) {
	m.BlockPeekSize.WithLabelValues(dispatcher, subscription).Observe(float64(bytes))
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, strconv.Itoa(int(partition))).Inc()
}

// IncIngestBackpressure increments the ingest backpressure counter.
func (m *Metrics) IncIngestBackpressure(topic string) {
	m.IngestBackpressure.WithLabelValues(topic).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, strconv.Itoa(int(partition)), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncMessagesPublished increments messages published counter.
func (m *Metrics) IncMessagesPublished(topic, status string) {
	m.MessagesPublished.WithLabelValues(topic, status).Inc()
}

// ObservePublishLatency observes produce latency.
func (m *Metrics) ObservePublishLatency(topic string, duration float64) {
	m.PublishLatency.WithLabelValues(topic).Observe(duration)
}

// IncDLQMessages increments the dead letter counter.
func (m *Metrics) IncDLQMessages(topic, reason string) {
	m.DLQMessages.WithLabelValues(topic, reason).Inc()
}

// AddRecordsArchived adds to the archived records counter.
func (m *Metrics) AddRecordsArchived(dispatcher string, streamID int32, count int) {
	m.RecordsArchived.WithLabelValues(dispatcher, strconv.Itoa(int(streamID))).Add(float64(count))
}

// SetBufferStats sets the buffer size and record count gauges.
func (m *Metrics) SetBufferStats(dispatcher string, streamID int32, bytes int64, records int) {
	stream := strconv.Itoa(int(streamID))
	m.BufferSize.WithLabelValues(dispatcher, stream).Set(float64(bytes))
	m.BufferRecordCount.WithLabelValues(dispatcher, stream).Set(float64(records))
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(dispatcher string, streamID int32, format string, status string) {
	m.FilesWritten.WithLabelValues(dispatcher, strconv.Itoa(int(streamID)), format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(dispatcher string, streamID int32, format string, size float64) {
	m.FileSize.WithLabelValues(dispatcher, strconv.Itoa(int(streamID)), format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(dispatcher string, streamID int32, duration float64) {
	m.StorageWriteDuration.WithLabelValues(dispatcher, strconv.Itoa(int(streamID))).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// IncEventsGenerated increments the generated events counter.
func (m *Metrics) IncEventsGenerated(dispatcher, eventType, status string) {
	m.EventsGenerated.WithLabelValues(dispatcher, eventType, status).Inc()
}
