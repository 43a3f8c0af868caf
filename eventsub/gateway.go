package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/streambot/telemetry"
)

const defaultMaxBodySize = 1 << 20

// Publisher receives accepted events.
type Publisher interface {
	Publish(ev Event) bool
}

// Gateway is the EventSub webhook endpoint.
type Gateway struct {
	verifier    *Verifier
	guard       *ReplayGuard
	publisher   Publisher
	maxBodySize int64

	wg sync.WaitGroup
}

// NewGateway wires a Gateway.
func NewGateway(verifier *Verifier, guard *ReplayGuard, publisher Publisher) *Gateway {
	return &Gateway{
		verifier:    verifier,
		guard:       guard,
		publisher:   publisher,
		maxBodySize: defaultMaxBodySize,
	}
}

// delivery is everything kept from a request once the response is written.
type delivery struct {
	messageID   string
	timestamp   string
	messageType string
	env         envelope
}

// ServeHTTP handles one webhook delivery.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer telemetry.ObserveSince(telemetry.WebhookHandleDuration, start)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "eventsub"))

	r.Body = http.MaxBytesReader(w, r.Body, g.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn("read webhook body failed", slog.Any("err", err))
		telemetry.IncWebhook(telemetry.OutcomeMalformed)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	d := delivery{
		messageID:   r.Header.Get(HeaderMessageID),
		timestamp:   r.Header.Get(HeaderMessageTimestamp),
		messageType: r.Header.Get(HeaderMessageType),
	}
	_, span := telemetry.StartSpan(ctx, "eventsub", "eventsub.delivery",
		telemetry.EventAttrs(d.messageID, d.messageType, r.Header.Get(HeaderSubscriptionType))...)
	defer span.End()

	if !g.verifier.Verify(d.messageID, d.timestamp, r.Header.Get(HeaderMessageSignature), body) {
		log.Warn("webhook signature mismatch", slog.String("message_id", d.messageID), slog.String("remote_addr", r.RemoteAddr))
		telemetry.IncWebhook(telemetry.OutcomeForbidden)
		telemetry.RecordError(span, ErrInvalidSignature)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := json.Unmarshal(body, &d.env); err != nil {
		log.Warn("webhook body is not valid json", slog.String("message_id", d.messageID), slog.Any("err", err))
		telemetry.IncWebhook(telemetry.OutcomeMalformed)
		telemetry.RecordError(span, errors.Join(ErrMalformedPayload, err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if d.messageType == MessageTypeVerification {
		if d.env.Challenge == "" {
			telemetry.IncWebhook(telemetry.OutcomeMalformed)
			http.Error(w, "missing challenge", http.StatusBadRequest)
			return
		}
		log.Info("subscription verified", slog.String("type", d.env.Subscription.Type), slog.String("subscription_id", d.env.Subscription.ID))
		telemetry.IncWebhook(telemetry.OutcomeChallenge)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, d.env.Challenge)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.process(log, d)
	}()
}

// Wait blocks until deliveries already answered have been processed.
func (g *Gateway) Wait() { g.wg.Wait() }

// process runs after the response has been written.
func (g *Gateway) process(log *slog.Logger, d delivery) {
	log = log.With(slog.String("message_id", d.messageID))
	ts, err := time.Parse(time.RFC3339Nano, d.timestamp)
	if err != nil {
		log.Warn("unparseable message timestamp", slog.String("timestamp", d.timestamp))
		telemetry.IncWebhook(telemetry.OutcomeMalformed)
		return
	}

	switch verdict := g.guard.Admit(d.messageID, ts); verdict {
	case Duplicate:
		log.Debug("dropping duplicate notification")
		telemetry.IncWebhook(telemetry.OutcomeDuplicate)
		return
	case Stale:
		log.Debug("dropping stale notification", slog.Time("timestamp", ts))
		telemetry.IncWebhook(telemetry.OutcomeStale)
		return
	}

	ev := Event{MessageID: d.messageID, Timestamp: ts, Subscription: d.env.Subscription}
	switch d.messageType {
	case MessageTypeNotification:
		if d.env.Subscription.Type == "" || len(d.env.Event) == 0 || string(d.env.Event) == "null" {
			log.Warn("notification without subscription type or event")
			telemetry.IncWebhook(telemetry.OutcomeMalformed)
			return
		}
		log.Info("received notification", slog.String("type", d.env.Subscription.Type))
		ev.Type = d.env.Subscription.Type
		ev.Payload = d.env.Event
		telemetry.IncWebhook(telemetry.OutcomeAccepted)
	case MessageTypeRevocation:
		log.Info("received revocation", slog.String("subscription_id", d.env.Subscription.ID), slog.String("status", d.env.Subscription.Status))
		payload, err := json.Marshal(d.env.Subscription)
		if err != nil {
			telemetry.IncWebhook(telemetry.OutcomeMalformed)
			return
		}
		ev.Type = TypeRevocation
		ev.Payload = payload
		telemetry.IncWebhook(telemetry.OutcomeRevocation)
	default:
		log.Info("unhandled message type", slog.String("message_type", d.messageType))
		telemetry.IncWebhook(telemetry.OutcomeUnhandled)
		return
	}
	g.publisher.Publish(ev)
}

// Drain waits for in-flight deliveries or until ctx is done.
func (g *Gateway) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
