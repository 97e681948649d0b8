package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/logbuffer"
)

func newTestIngestor(t *testing.T, d *dispatcher.Dispatcher, dlq *DLQ, metrics MetricsCollector) *Ingestor {
	t.Helper()
	i := newIngestor(nil, IngestConfig{GroupID: "group-1", BackpressureWait: 5 * time.Millisecond}, d, dlq, nil, metrics)
	t.Cleanup(i.unregister)
	return i
}

func TestIngest_ConsumeClaim(t *testing.T) {
	d, _ := newTestDispatcher(t, 3*64*1024, "reader")
	sub, _ := d.Subscription("reader")
	metrics := newCountingMetrics()
	i := newTestIngestor(t, d, nil, metrics)

	session := &fakeSession{ctx: context.Background()}
	handler := &ingestHandler{ingestor: i}

	if err := handler.Setup(session); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := handler.ConsumeClaim(session, newFakeClaim(4, "a", "bb", "ccc")); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}
	if err := handler.Cleanup(session); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	got := readAll(sub)
	want := []string{"a", "bb", "ccc"}
	if len(got) != len(want) {
		t.Fatalf("fragments = %v, want %v", got, want)
	}
	for n, r := range got {
		if r.payload != want[n] {
			t.Errorf("fragment %d payload = %q, want %q", n, r.payload, want[n])
		}
		if r.streamID != 4 {
			t.Errorf("fragment %d stream id = %d, want kafka partition 4", n, r.streamID)
		}
	}

	if len(session.marked) != 3 || session.marked[2] != 2 {
		t.Errorf("marked offsets = %v, want [0 1 2]", session.marked)
	}
	if metrics.consumed != 3 {
		t.Errorf("consumed = %d, want 3", metrics.consumed)
	}
	if metrics.rebalances != 1 {
		t.Errorf("rebalances = %d, want 1", metrics.rebalances)
	}
}

func TestIngest_OversizeMessageGoesToDLQ(t *testing.T) {
	d, _ := newTestDispatcher(t, 3*4096, "reader")
	sub, _ := d.Subscription("reader")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !strings.Contains(string(val), `"failure_reason":"fragment_too_large"`) {
			return errors.New("missing failure reason")
		}
		return nil
	})
	defer producer.Close()

	metrics := newCountingMetrics()
	i := newTestIngestor(t, d, NewDLQ(producer, DLQConfig{}, "test", nil, metrics), metrics)

	session := &fakeSession{ctx: context.Background()}
	big := strings.Repeat("x", d.MaxFragmentLength())
	handler := &ingestHandler{ingestor: i}
	if err := handler.ConsumeClaim(session, newFakeClaim(0, big, "small")); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}

	if got := readAll(sub); len(got) != 1 || got[0].payload != "small" {
		t.Errorf("fragments = %v, want only the small message", got)
	}
	if len(session.marked) != 2 {
		t.Errorf("marked offsets = %v, want both messages marked", session.marked)
	}
	if metrics.dlq["events-dlq"] != 1 {
		t.Errorf("dlq messages = %v, want 1 on events-dlq", metrics.dlq)
	}
}

func TestIngest_InvalidCloudEventGoesToDLQ(t *testing.T) {
	d, _ := newTestDispatcher(t, 3*64*1024, "reader")
	sub, _ := d.Subscription("reader")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !strings.Contains(string(val), `"failure_reason":"validation_failed"`) {
			return errors.New("missing failure reason")
		}
		return nil
	})
	defer producer.Close()

	metrics := newCountingMetrics()
	i := newIngestor(nil, IngestConfig{GroupID: "group-1", ValidateCloudEvents: true}, d, NewDLQ(producer, DLQConfig{}, "test", nil, metrics), nil, metrics)
	t.Cleanup(i.unregister)

	valid := `{"specversion":"1.0","id":"evt-1","source":"test","type":"test.event"}`
	session := &fakeSession{ctx: context.Background()}
	handler := &ingestHandler{ingestor: i}
	if err := handler.ConsumeClaim(session, newFakeClaim(0, "not an event", valid)); err != nil {
		t.Fatalf("ConsumeClaim() error = %v", err)
	}

	if got := readAll(sub); len(got) != 1 || got[0].payload != valid {
		t.Errorf("fragments = %v, want only the valid event", got)
	}
	if len(session.marked) != 2 {
		t.Errorf("marked offsets = %v, want both messages marked", session.marked)
	}
	if metrics.dlq["events-dlq"] != 1 {
		t.Errorf("dlq messages = %v, want 1 on events-dlq", metrics.dlq)
	}
}

func TestIngest_BackpressureHonoursContext(t *testing.T) {
	d, _ := newTestDispatcher(t, 3*4096, "reader")
	metrics := newCountingMetrics()
	i := newTestIngestor(t, d, nil, metrics)

	// Fill the publisher window; no upkeep runs, so the limit stays put.
	var claim logbuffer.ClaimedFragment
	for {
		position, err := d.Claim(&claim, 64, 0)
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if position == dispatcher.ResultLimitReached {
			break
		}
		if position == dispatcher.ResultPartitionRolled {
			continue
		}
		claim.Commit()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := i.append(ctx, &claim, "events", make([]byte, 64), 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("append() error = %v, want context.DeadlineExceeded", err)
	}
	if metrics.backpressure == 0 {
		t.Error("backpressure was not counted")
	}
}

func TestIngest_StopsOnCancelledSession(t *testing.T) {
	d, _ := newTestDispatcher(t, 3*4096, "reader")
	i := newTestIngestor(t, d, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{partition: 0, messages: make(chan *sarama.ConsumerMessage)}
	handler := &ingestHandler{ingestor: i}
	if err := handler.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Errorf("ConsumeClaim() error = %v, want nil on cancelled session", err)
	}
}

func TestOffsetInitial(t *testing.T) {
	tests := []struct {
		reset string
		want  int64
	}{
		{"earliest", sarama.OffsetOldest},
		{"latest", sarama.OffsetNewest},
		{"", sarama.OffsetNewest},
	}
	for _, tt := range tests {
		if got := offsetInitial(tt.reset); got != tt.want {
			t.Errorf("offsetInitial(%q) = %d, want %d", tt.reset, got, tt.want)
		}
	}
}

func TestNewConsumerConfig(t *testing.T) {
	config, err := newConsumerConfig(IngestConfig{
		AutoOffsetReset:     "earliest",
		SessionTimeoutMS:    10000,
		HeartbeatIntervalMS: 3000,
	})
	if err != nil {
		t.Fatalf("newConsumerConfig() error = %v", err)
	}
	if config.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Errorf("Offsets.Initial = %d, want OffsetOldest", config.Consumer.Offsets.Initial)
	}
	if config.Consumer.Group.Session.Timeout != 10*time.Second {
		t.Errorf("Session.Timeout = %v, want 10s", config.Consumer.Group.Session.Timeout)
	}
	if config.Consumer.MaxProcessingTime != 5*time.Minute {
		t.Errorf("MaxProcessingTime = %v, want 5m default", config.Consumer.MaxProcessingTime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
