package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/md-rashed-zaman/sessionbook/libs/kafkax"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("booking", "b-1", "booking.confirmed.v1", map[string]string{"booking_id": "b-1"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if evt.EventID == "" {
		t.Fatal("expected event id")
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload["booking_id"] != "b-1" {
		t.Fatalf("unexpected payload %s (%v)", evt.Payload, err)
	}

	if _, err := NewEvent("booking", "b-1", "x", func() {}); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestMessage(t *testing.T) {
	msg := Message(context.Background(), Record{
		ID:          7,
		EventID:     "evt-1",
		AggregateID: "b-1",
		EventType:   "booking.cancelled.v1",
		Payload:     []byte(`{}`),
	})
	if msg.Topic != "booking.cancelled.v1" || string(msg.Key) != "b-1" {
		t.Fatalf("unexpected routing topic=%q key=%q", msg.Topic, msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "booking.cancelled.v1" || meta.AggregateID != "b-1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}
