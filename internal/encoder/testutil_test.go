package encoder

import (
	"testing"
	"time"

	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/pkg/event"
)

var archivedAt = time.Date(2025, 12, 21, 10, 30, 0, 0, time.UTC)

const cloudEventPayload = `{"specversion":"1.0","id":"evt-1","source":"/orders","type":"order.created","subject":"order-42","datacontenttype":"application/json","time":"2025-12-21T10:29:59Z","data":{"k":"v"}}`

func testRecords(t testing.TB) []event.Record {
	t.Helper()

	ce, err := event.DecodeCloudEvent([]byte(cloudEventPayload))
	if err != nil {
		t.Fatalf("DecodeCloudEvent() error = %v", err)
	}

	return []event.Record{
		{
			Dispatcher: "orders",
			Position:   logbuffer.Position(3, 64),
			StreamID:   7,
			Payload:    []byte(cloudEventPayload),
			Event:      ce,
			ArchivedAt: archivedAt,
		},
		{
			Dispatcher: "orders",
			Position:   logbuffer.Position(3, 320),
			StreamID:   7,
			Failed:     true,
			Payload:    []byte("opaque"),
			ArchivedAt: archivedAt,
		},
	}
}
