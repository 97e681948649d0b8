package kafka

import (
	"context"
	"sync"
	"testing"

	"github.com/IBM/sarama"

	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/internal/scheduler"
	"github.com/jittakal/logdispatch/pkg/fragment"
)

func newTestDispatcher(t *testing.T, bufferSize int, subscriptions ...string) (*dispatcher.Dispatcher, *scheduler.Manual) {
	t.Helper()

	sched := scheduler.NewManual()
	d, err := dispatcher.NewBuilder(sched).
		Name("kafka-test").
		BufferSize(bufferSize).
		Subscriptions(subscriptions...).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sched.RunPending()

	t.Cleanup(func() { _ = d.Close() })
	return d, sched
}

func commitPayload(t *testing.T, d *dispatcher.Dispatcher, payload string, streamID int32) int64 {
	t.Helper()

	var claim logbuffer.ClaimedFragment
	for {
		position, err := d.Claim(&claim, len(payload), streamID)
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		switch position {
		case dispatcher.ResultPartitionRolled:
			continue
		case dispatcher.ResultLimitReached:
			t.Fatalf("Claim(%q) = limit reached", payload)
		}
		copy(claim.Buffer(), payload)
		claim.Commit()
		return position
	}
}

type received struct {
	payload  string
	streamID int32
	failed   bool
}

func readAll(s *dispatcher.Subscription) []received {
	var out []received
	h := fragment.HandlerFunc(func(f fragment.Fragment) fragment.Result {
		out = append(out, received{payload: string(f.Payload), streamID: f.StreamID, failed: f.Failed})
		return fragment.Consume
	})
	for s.Poll(h, 64) > 0 {
	}
	return out
}

// fakeSession implements sarama.ConsumerGroupSession.
type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 {
	return map[string][]int32{"events": {0, 4}}
}
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

// fakeClaim implements sarama.ConsumerGroupClaim.
type fakeClaim struct {
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func newFakeClaim(partition int32, values ...string) *fakeClaim {
	c := &fakeClaim{partition: partition, messages: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.messages <- &sarama.ConsumerMessage{
			Topic:     "events",
			Partition: partition,
			Offset:    int64(i),
			Value:     []byte(v),
		}
	}
	close(c.messages)
	return c
}

func (c *fakeClaim) Topic() string                            { return "events" }
func (c *fakeClaim) Partition() int32                         { return c.partition }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(cap(c.messages)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// countingMetrics records the Kafka measurements tests assert on.
type countingMetrics struct {
	nopMetrics
	mu           sync.Mutex
	consumed     int
	backpressure int
	rebalances   int
	published    map[string]int
	dlq          map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{published: map[string]int{}, dlq: map[string]int{}}
}

func (m *countingMetrics) IncMessagesConsumed(string, int32) {
	m.mu.Lock()
	m.consumed++
	m.mu.Unlock()
}

func (m *countingMetrics) IncIngestBackpressure(string) {
	m.mu.Lock()
	m.backpressure++
	m.mu.Unlock()
}

func (m *countingMetrics) IncRebalances(string) {
	m.mu.Lock()
	m.rebalances++
	m.mu.Unlock()
}

func (m *countingMetrics) IncMessagesPublished(_ string, status string) {
	m.mu.Lock()
	m.published[status]++
	m.mu.Unlock()
}

func (m *countingMetrics) IncDLQMessages(topic, _ string) {
	m.mu.Lock()
	m.dlq[topic]++
	m.mu.Unlock()
}
