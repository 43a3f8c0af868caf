package telemetry

import (
	"context"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	if WebhookDeliveries == nil || AlertsEnqueued == nil || AlertQueueDepth == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	before := promtest.ToFloat64(WebhookDeliveries.WithLabelValues(OutcomeDuplicate))
	IncWebhook(OutcomeDuplicate)
	IncWebhook(OutcomeDuplicate)
	if got := promtest.ToFloat64(WebhookDeliveries.WithLabelValues(OutcomeDuplicate)); got != before+2 {
		t.Errorf("duplicate deliveries = %v, want %v", got, before+2)
	}

	beforeAlert := promtest.ToFloat64(AlertsEnqueued.WithLabelValues("follow"))
	IncAlert("follow")
	if got := promtest.ToFloat64(AlertsEnqueued.WithLabelValues("follow")); got != beforeAlert+1 {
		t.Errorf("follow alerts = %v, want %v", got, beforeAlert+1)
	}
}

func TestGauges(t *testing.T) {
	Init()

	SetQueueDepth(3)
	if got := promtest.ToFloat64(AlertQueueDepth); got != 3 {
		t.Errorf("queue depth = %v, want 3", got)
	}
	UpdateControlSurfaceGauge(true)
	if got := promtest.ToFloat64(ControlSurfaceUp); got != 1 {
		t.Errorf("control surface up = %v, want 1", got)
	}
	UpdateControlSurfaceGauge(false)
	if got := promtest.ToFloat64(ControlSurfaceUp); got != 0 {
		t.Errorf("control surface up = %v, want 0", got)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty) = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing("streambot", "test", "")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
}
