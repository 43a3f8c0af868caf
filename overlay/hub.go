// Package overlay streams state updates to browser overlay clients over
// server-sent events.
package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/streambot/telemetry"
)

// Message is one overlay update. Keys are independent fields ("alert",
// "popUpMessage", "message", "followTotal", ...).
type Message map[string]any

const (
	clientBuffer      = 32
	heartbeatInterval = 15 * time.Second
)

// Hub fans messages out to every connected overlay client. Values of sticky
// keys are remembered and replayed to clients as they connect.
type Hub struct {
	// OnConnect, when set, adds fields to the first message a client receives.
	OnConnect func(ctx context.Context) Message

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	sticky  map[string]bool
	state   Message
}

// NewHub returns a Hub that remembers the latest value of each sticky key.
func NewHub(stickyKeys ...string) *Hub {
	h := &Hub{
		clients: make(map[chan []byte]struct{}),
		sticky:  make(map[string]bool, len(stickyKeys)),
		state:   Message{},
	}
	for _, k := range stickyKeys {
		h.sticky[k] = true
	}
	return h
}

// Broadcast sends msg to all clients. Clients that cannot keep up are disconnected.
func (h *Hub) Broadcast(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encode overlay message", slog.Any("err", err), slog.String("component", "overlay"))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range msg {
		if h.sticky[k] {
			h.state[k] = v
		}
	}
	for ch := range h.clients {
		select {
		case ch <- b:
		default:
			slog.Warn("overlay client too slow, disconnecting", slog.String("component", "overlay"))
			h.removeLocked(ch)
		}
	}
}

// Snapshot returns a copy of the remembered sticky values.
func (h *Hub) Snapshot() Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(Message, len(h.state))
	for k, v := range h.state {
		out[k] = v
	}
	return out
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add() (chan []byte, Message) {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = struct{}{}
	telemetry.SetOverlayClients(len(h.clients))
	snap := make(Message, len(h.state))
	for k, v := range h.state {
		snap[k] = v
	}
	return ch, snap
}

func (h *Hub) remove(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(ch)
}

func (h *Hub) removeLocked(ch chan []byte) {
	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
	telemetry.SetOverlayClients(len(h.clients))
}

// ServeHTTP streams messages to one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "overlay"))

	ch, snap := h.add()
	defer h.remove(ch)
	if h.OnConnect != nil {
		for k, v := range h.OnConnect(ctx) {
			snap[k] = v
		}
	}
	log.Info("overlay client connected", slog.String("remote_addr", r.RemoteAddr))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	first, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := writeEvent(w, first); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("overlay client disconnected")
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, b); err != nil {
				log.Debug("overlay write failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
