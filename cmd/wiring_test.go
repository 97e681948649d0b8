package main

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/logdispatch/internal/config/dto"
	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/internal/observability"
	"github.com/jittakal/logdispatch/internal/scheduler"
	"github.com/jittakal/logdispatch/pkg/event"
)

func TestNewStorageWriter(t *testing.T) {
	writer, err := newStorageWriter(dto.StorageConfig{
		Backend: "file",
		File:    dto.FileConfig{BasePath: t.TempDir()},
	}, event.FormatParquet, nil, nil)
	if err != nil {
		t.Fatalf("newStorageWriter(file) error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if _, err := newStorageWriter(dto.StorageConfig{Backend: "tape"}, event.FormatParquet, nil, nil); err == nil {
		t.Error("newStorageWriter(tape) error = nil")
	}
}

func TestKafkaSecurity(t *testing.T) {
	sec := kafkaSecurity(dto.KafkaConfig{
		SecurityProtocol:      "SASL_SSL",
		SASLMechanism:         "SCRAM-SHA-512",
		SASLUsername:          "user",
		SASLPassword:          "pass",
		TLSInsecureSkipVerify: true,
	})
	if sec.SecurityProtocol != "SASL_SSL" || sec.SASLMechanism != "SCRAM-SHA-512" {
		t.Errorf("security = %+v", sec)
	}
	if sec.SASLUsername != "user" || sec.SASLPassword != "pass" || !sec.TLSInsecureSkipVerify {
		t.Errorf("credentials not carried over: %+v", sec)
	}
}

func TestNewDispatcher(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sched := scheduler.NewManual()

	d, err := newDispatcher(dto.DispatcherConfig{
		Name:               "wired",
		BufferSizeBytes:    3 * 64 * 1024,
		InitialPosition:    1,
		Mode:               "pipeline",
		Allocator:          "heap",
		HandlerPanicPolicy: "mark_failed",
		Subscriptions:      []string{"first", "second"},
	}, sched, nil, metrics)
	if err != nil {
		t.Fatalf("newDispatcher() error = %v", err)
	}
	defer d.Close()

	if d.Name() != "wired" {
		t.Errorf("Name() = %q, want wired", d.Name())
	}
	if d.Mode() != dispatcher.ModePipeline {
		t.Errorf("Mode() = %v, want pipeline", d.Mode())
	}

	if _, err := newDispatcher(dto.DispatcherConfig{Name: "bad", InitialPosition: 1, Mode: "broadcast"}, sched, nil, metrics); err == nil {
		t.Error("newDispatcher() with unknown mode error = nil")
	}
	if _, err := newDispatcher(dto.DispatcherConfig{Name: "bad", InitialPosition: 1, HandlerPanicPolicy: "ignore"}, sched, nil, metrics); err == nil {
		t.Error("newDispatcher() with unknown panic policy error = nil")
	}
}

func TestAwaitDrained(t *testing.T) {
	sched := scheduler.NewManual()
	d, err := dispatcher.NewBuilder(sched).
		Name("drain").
		BufferSize(3 * 4096).
		Subscriptions("reader").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sched.RunPending()
	defer d.Close()

	if !awaitDrained(d, time.Millisecond) {
		t.Error("awaitDrained() = false on an empty dispatcher")
	}

	var claim logbuffer.ClaimedFragment
	if _, err := d.Claim(&claim, 4, 0); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	copy(claim.Buffer(), "data")
	claim.Commit()

	if awaitDrained(d, 20*time.Millisecond) {
		t.Error("awaitDrained() = true with an unread fragment")
	}
}
