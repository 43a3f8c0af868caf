package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/streambot/alerts"
)

const maxAdminBody = 64 << 10

// HandleAdminAlerts enqueues an alert.
//
//	{"type": "follow", "payload": {...}, "duration_ms": 5000}
func (h *Handlers) HandleAdminAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Alerts == nil {
		http.Error(w, "alerts not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Type       string         `json:"type"`
		Payload    map[string]any `json:"payload"`
		DurationMS int64          `json:"duration_ms"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type required", http.StatusBadRequest)
		return
	}
	if req.DurationMS < 0 {
		http.Error(w, "duration_ms must not be negative", http.StatusBadRequest)
		return
	}
	queued := h.deps.Alerts.Send(alerts.Request{
		Type:     req.Type,
		Payload:  req.Payload,
		Duration: time.Duration(req.DurationMS) * time.Millisecond,
	})
	writeJSON(w, http.StatusAccepted, queued)
}

// HandleAdminDismiss ends the active alert early.
func (h *Handlers) HandleAdminDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Alerts == nil {
		http.Error(w, "alerts not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if !h.deps.Alerts.Dismiss(req.ID) {
		http.Error(w, "alert not active", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": req.ID})
}

// HandleAdminQueue returns the active alert and the queue behind it.
func (h *Handlers) HandleAdminQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Alerts == nil {
		http.Error(w, "alerts not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Alerts.Snapshot())
}

// HandleAdminTriggers runs an overlay trigger sequence.
//
//	{"source": "Joycon Right", "timeout_ms": 2000}
func (h *Handlers) HandleAdminTriggers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Triggers == nil {
		http.Error(w, "triggers not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Source    string `json:"source"`
		TimeoutMS int64  `json:"timeout_ms"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Source == "" || req.TimeoutMS < 0 {
		http.Error(w, "source required and timeout_ms must not be negative", http.StatusBadRequest)
		return
	}
	if err := h.deps.Triggers.Trigger(r.Context(), req.Source, time.Duration(req.TimeoutMS)*time.Millisecond); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "ok", "source": req.Source})
}
