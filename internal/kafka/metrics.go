package kafka

// MetricsCollector receives Kafka ingest and publish measurements.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncIngestBackpressure(topic string)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveRebalanceDuration(groupID string, duration float64)
	SetPartitionsAssigned(topic string, count float64)

	IncMessagesPublished(topic, status string)
	ObservePublishLatency(topic string, duration float64)
	IncDLQMessages(topic, reason string)
}

type nopMetrics struct{}

func (nopMetrics) IncMessagesConsumed(string, int32)        {}
func (nopMetrics) IncIngestBackpressure(string)             {}
func (nopMetrics) IncRebalances(string)                     {}
func (nopMetrics) IncOffsetCommits(string, int32, string)   {}
func (nopMetrics) ObserveRebalanceDuration(string, float64) {}
func (nopMetrics) SetPartitionsAssigned(string, float64)    {}
func (nopMetrics) IncMessagesPublished(string, string)      {}
func (nopMetrics) ObservePublishLatency(string, float64)    {}
func (nopMetrics) IncDLQMessages(string, string)            {}
