// Package alerts runs the overlay alert queue: one alert on screen at a time,
// shown in submission order, each removed after its duration.
package alerts

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/streambot/clock"
	"github.com/onnwee/streambot/overlay"
	"github.com/onnwee/streambot/telemetry"
)

// Request is one queued alert. A zero Duration after catalog defaults are
// applied means the alert stays until dismissed.
type Request struct {
	ID         string
	Type       string
	Payload    map[string]any
	Duration   time.Duration
	DelayAudio time.Duration
}

// MarshalJSON flattens the payload next to the alert fields, which win on conflict.
// Durations are encoded in milliseconds.
func (r Request) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Payload)+4)
	for k, v := range r.Payload {
		m[k] = v
	}
	m["id"] = r.ID
	m["type"] = r.Type
	m["duration"] = r.Duration.Milliseconds()
	if r.DelayAudio > 0 {
		m["delayAudio"] = r.DelayAudio.Milliseconds()
	}
	return json.Marshal(m)
}

// Broadcaster delivers overlay messages to connected clients.
type Broadcaster interface {
	Broadcast(msg overlay.Message)
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	Active  *Request  `json:"active"`
	Pending []Request `json:"pending"`
}

// Engine owns the alert queue.
type Engine struct {
	out     Broadcaster
	catalog Catalog
	clock   clock.Clock

	mu          sync.Mutex
	queue       []Request
	active      bool
	activatedAt time.Time
	evict       clock.Timer
}

// NewEngine returns an idle engine. A nil clock uses the system clock.
func NewEngine(out Broadcaster, catalog Catalog, c clock.Clock) *Engine {
	if c == nil {
		c = clock.Real{}
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{out: out, catalog: catalog, clock: c}
}

// Send queues an alert and returns it with its assigned id and defaults.
func (e *Engine) Send(req Request) Request {
	req.ID = uuid.NewString()
	req = e.catalog.apply(req)
	telemetry.IncAlert(req.Type)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, req)
	telemetry.SetQueueDepth(len(e.queue))
	slog.Debug("alert queued", slog.String("id", req.ID), slog.String("type", req.Type), slog.Int("depth", len(e.queue)), slog.String("component", "alerts"))
	e.pumpLocked()
	return req
}

// Pump activates the queue head if nothing is showing, or clears the overlay
// when the queue is empty. Safe to call at any time.
func (e *Engine) Pump() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pumpLocked()
}

func (e *Engine) pumpLocked() {
	if len(e.queue) == 0 {
		e.out.Broadcast(clearMessage())
		return
	}
	if e.active {
		return
	}
	head := e.queue[0]
	e.active = true
	e.activatedAt = e.clock.Now()
	e.out.Broadcast(clearMessage())
	e.out.Broadcast(overlay.Message{"alert": head})
	slog.Info("alert shown", slog.String("id", head.ID), slog.String("type", head.Type), slog.Duration("duration", head.Duration), slog.String("component", "alerts"))
	if head.Duration > 0 {
		id := head.ID
		e.evict = e.clock.AfterFunc(head.Duration, func() { e.finish(id) })
	}
}

// finish removes the active alert if it is still id, then advances the queue.
func (e *Engine) finish(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || len(e.queue) == 0 || e.queue[0].ID != id {
		return false
	}
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}
	telemetry.ObserveAlertDisplay(e.clock.Now().Sub(e.activatedAt))
	e.queue = e.queue[1:]
	e.active = false
	telemetry.SetQueueDepth(len(e.queue))
	e.pumpLocked()
	return true
}

// Dismiss ends the active alert early. It reports false when id is not the
// alert currently on screen; queued alerts cannot be dismissed.
func (e *Engine) Dismiss(id string) bool {
	return e.finish(id)
}

// Snapshot returns the active alert and the alerts waiting behind it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s Snapshot
	pending := e.queue
	if e.active && len(e.queue) > 0 {
		head := e.queue[0]
		s.Active = &head
		pending = e.queue[1:]
	}
	s.Pending = append([]Request{}, pending...)
	return s
}

func clearMessage() overlay.Message {
	return overlay.Message{"alert": map[string]any{}}
}
