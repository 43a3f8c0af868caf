package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// maxOAuthStates bounds the pending authorization states kept in memory.
const maxOAuthStates = 1000

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps

	stateMu    sync.Mutex
	stateStore map[string]time.Time
}

// NewHandlers returns handlers over deps.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, stateStore: make(map[string]time.Time)}
}

// addOAuthState records state until expiry. It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	now := time.Now()
	for s, exp := range h.stateStore {
		if now.After(exp) {
			delete(h.stateStore, s)
		}
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// takeOAuthState consumes state, reporting whether it was pending and unexpired.
func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
