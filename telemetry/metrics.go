// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook delivery outcomes recorded on WebhookDeliveries.
const (
	OutcomeAccepted   = "accepted"
	OutcomeChallenge  = "challenge"
	OutcomeForbidden  = "forbidden"
	OutcomeDuplicate  = "duplicate"
	OutcomeStale      = "stale"
	OutcomeMalformed  = "malformed"
	OutcomeUnhandled  = "unhandled"
	OutcomeRevocation = "revocation"
)

var (
	once sync.Once

	// Counters
	WebhookDeliveries *prometheus.CounterVec // label: outcome
	EventsDispatched  *prometheus.CounterVec // label: type
	AlertsEnqueued    *prometheus.CounterVec // label: type
	ControlRequests   *prometheus.CounterVec // labels: request, result
	TriggerFailures   *prometheus.CounterVec // label: source
	ChatMessagesSent  prometheus.Counter

	// Histograms (seconds)
	AlertDisplayDuration  prometheus.Observer
	WebhookHandleDuration prometheus.Observer

	// Gauges
	AlertQueueDepth     prometheus.Gauge
	ControlSurfaceUp    prometheus.Gauge // 1=connected,0=disconnected
	OverlayClientsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_webhook_deliveries_total", Help: "EventSub webhook deliveries by outcome"}, []string{"outcome"})
		EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_events_dispatched_total", Help: "Domain events dispatched to handlers by type"}, []string{"type"})
		AlertsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_alerts_enqueued_total", Help: "Alerts appended to the queue by type"}, []string{"type"})
		ControlRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_control_requests_total", Help: "Control surface requests by request type and result"}, []string{"request", "result"})
		TriggerFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_trigger_failures_total", Help: "Overlay trigger sequences that failed"}, []string{"source"})
		ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_chat_messages_sent_total", Help: "Chat messages sent by the bot"})
		AlertDisplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streambot_alert_display_seconds", Help: "Time an alert stayed active", Buckets: []float64{1, 2, 5, 10, 20, 60, 120}})
		WebhookHandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streambot_webhook_handle_seconds", Help: "Webhook request handling duration", Buckets: prometheus.DefBuckets})
		AlertQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_alert_queue_depth", Help: "Alerts queued including the active one"})
		ControlSurfaceUp = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_control_surface_up", Help: "Control surface connected=1 disconnected=0"})
		OverlayClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_overlay_clients", Help: "Connected overlay clients"})
	})
}

// IncWebhook records one webhook delivery outcome.
func IncWebhook(outcome string) {
	if WebhookDeliveries != nil {
		WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}

// IncEvent records one dispatched domain event.
func IncEvent(eventType string) {
	if EventsDispatched != nil {
		EventsDispatched.WithLabelValues(eventType).Inc()
	}
}

// IncAlert records one enqueued alert.
func IncAlert(alertType string) {
	if AlertsEnqueued != nil {
		AlertsEnqueued.WithLabelValues(alertType).Inc()
	}
}

// IncControlRequest records a control surface request result ("ok", "error", "unsupported", "unavailable").
func IncControlRequest(request, result string) {
	if ControlRequests != nil {
		ControlRequests.WithLabelValues(request, result).Inc()
	}
}

// IncTriggerFailure records a failed overlay trigger.
func IncTriggerFailure(source string) {
	if TriggerFailures != nil {
		TriggerFailures.WithLabelValues(source).Inc()
	}
}

// IncChatSent records a chat message sent by the bot.
func IncChatSent() {
	if ChatMessagesSent != nil {
		ChatMessagesSent.Inc()
	}
}

// SetQueueDepth records the current alert queue length.
func SetQueueDepth(n int) {
	if AlertQueueDepth != nil {
		AlertQueueDepth.Set(float64(n))
	}
}

// UpdateControlSurfaceGauge sets gauge to 1 if connected else 0.
func UpdateControlSurfaceGauge(up bool) {
	if ControlSurfaceUp != nil {
		if up {
			ControlSurfaceUp.Set(1)
		} else {
			ControlSurfaceUp.Set(0)
		}
	}
}

// SetOverlayClients records the number of connected overlay clients.
func SetOverlayClients(n int) {
	if OverlayClientsGauge != nil {
		OverlayClientsGauge.Set(float64(n))
	}
}

// ObserveAlertDisplay records how long an alert stayed on screen.
func ObserveAlertDisplay(d time.Duration) {
	if AlertDisplayDuration != nil {
		AlertDisplayDuration.Observe(d.Seconds())
	}
}

// ObserveSince records time elapsed since start in obs if non-nil.
func ObserveSince(obs prometheus.Observer, start time.Time) time.Duration {
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
