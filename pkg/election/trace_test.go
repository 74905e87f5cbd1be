package election

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Shavakan/lease-leader/pkg/lease"
	"github.com/Shavakan/lease-leader/pkg/tracing"
)

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func writeSpans(recorder *tracetest.SpanRecorder) []sdktrace.ReadOnlySpan {
	var spans []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == tracing.SpanLeaseWrite {
			spans = append(spans, s)
		}
	}
	return spans
}

func TestElector_WriteSpans(t *testing.T) {
	recorder := withSpanRecorder(t)
	fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	store := newFaultyStore(lease.NewMemoryStore())
	store.conflictWrites = 1

	e := startElector(t, DefaultConfig(testKey, "pod-a"), store, WithClock(fc))
	waitForTimer(t, fc)
	fc.Step(DefaultRetryPeriod)
	waitForTimer(t, fc)

	if !e.IsLeader() {
		t.Fatalf("State() = %s, want leading", e.State())
	}

	spans := writeSpans(recorder)
	if len(spans) != 2 {
		t.Fatalf("write spans = %d, want 2", len(spans))
	}

	conflict := spans[0].Events()
	if len(conflict) != 1 || conflict[0].Name != "conflict" {
		t.Errorf("first write events = %v, want one conflict event", conflict)
	}

	attrs := map[string]string{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["lease.epoch"] != "1" {
		t.Errorf("lease.epoch = %q, want 1", attrs["lease.epoch"])
	}
	if attrs["lease.version"] == "" {
		t.Error("lease.version should be set on a successful write")
	}
}
