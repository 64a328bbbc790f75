package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	meta := EventMeta{EventID: "evt-1", EventType: "booking.confirmed", AggregateID: "bk-1"}
	msg := kafka.Message{Topic: "booking.lifecycle", Key: []byte("bk-1"), Headers: meta.Headers(ctx)}

	got := ExtractEventMeta(msg)
	if got != meta {
		t.Fatalf("meta mismatch: %+v", got)
	}
	if HeaderValue(msg.Headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header")
	}
	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), msg))
	if extracted.TraceID() != traceID {
		t.Fatalf("trace id not propagated: %s", extracted.TraceID())
	}
}

func TestExtractEventMeta_Fallbacks(t *testing.T) {
	got := ExtractEventMeta(kafka.Message{Topic: "booking.lifecycle", Key: []byte("k")})
	if got.EventID != "k" || got.EventType != "booking.lifecycle" {
		t.Fatalf("unexpected fallback meta %+v", got)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}
