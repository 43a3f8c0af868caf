package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/streambot/telemetry"
)

// Handler consumes one event. Errors are logged by the Bus.
type Handler func(ctx context.Context, ev Event) error

// ErrBusStarted is returned when subscribing after Run has been called.
var ErrBusStarted = errors.New("eventsub: bus already running")

const defaultBusBuffer = 64

// Bus fans events out to handlers registered at startup. Each event type gets
// its own queue and consumer goroutine: events of one type are handled in
// publish order, and types never wait on each other.
type Bus struct {
	mu       sync.RWMutex
	buffer   int
	started  bool
	handlers map[string][]Handler
	queues   map[string]chan Event
}

// NewBus returns a Bus whose per-type queues hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBusBuffer
	}
	return &Bus{
		buffer:   buffer,
		handlers: make(map[string][]Handler),
		queues:   make(map[string]chan Event),
	}
}

// Subscribe registers h for eventType. Handlers for the same type run in registration order.
func (b *Bus) Subscribe(eventType string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("%w: subscribe %s", ErrBusStarted, eventType)
	}
	b.handlers[eventType] = append(b.handlers[eventType], h)
	if _, ok := b.queues[eventType]; !ok {
		b.queues[eventType] = make(chan Event, b.buffer)
	}
	return nil
}

// Publish enqueues ev without blocking. It returns false when nobody handles
// the type or its queue is full.
func (b *Bus) Publish(ev Event) bool {
	b.mu.RLock()
	q, ok := b.queues[ev.Type]
	b.mu.RUnlock()
	if !ok {
		slog.Debug("no handler for event type", slog.String("type", ev.Type), slog.String("component", "eventbus"))
		return false
	}
	select {
	case q <- ev:
		return true
	default:
		slog.Warn("event queue full, dropping event", slog.String("type", ev.Type), slog.String("message_id", ev.MessageID), slog.String("component", "eventbus"))
		return false
	}
}

// Run consumes queued events until ctx is canceled.
func (b *Bus) Run(ctx context.Context) {
	b.mu.Lock()
	b.started = true
	type consumer struct {
		eventType string
		queue     chan Event
		handlers  []Handler
	}
	consumers := make([]consumer, 0, len(b.queues))
	for t, q := range b.queues {
		consumers = append(consumers, consumer{eventType: t, queue: q, handlers: b.handlers[t]})
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c consumer) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-c.queue:
					telemetry.IncEvent(ev.Type)
					for _, h := range c.handlers {
						dispatch(ctx, h, ev)
					}
				}
			}
		}(c)
	}
	wg.Wait()
}

func dispatch(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", slog.String("type", ev.Type), slog.Any("panic", r), slog.String("component", "eventbus"))
		}
	}()
	if err := h(ctx, ev); err != nil {
		slog.Warn("event handler failed", slog.String("type", ev.Type), slog.String("message_id", ev.MessageID), slog.Any("err", err), slog.String("component", "eventbus"))
	}
}
