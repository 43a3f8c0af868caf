package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and OAuth responses.
// Point twitchapi.HelixClient.BaseURL at URL+"/helix" and TokenSource.TokenURL at URL+"/oauth2/token".
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []RecordedRequest
}

// RecordedRequest is a request seen by MockTwitchServer.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		handler, ok := m.Handlers[r.Method+" "+r.URL.Path]
		if !ok {
			handler, ok = m.Handlers[r.URL.Path]
		}
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns every request received so far.
func (m *MockTwitchServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// Handle sets the handler for method and path ("" method matches any).
func (m *MockTwitchServer) Handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := path
	if method != "" {
		key = method + " " + path
	}
	m.Handlers[key] = h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login, displayName string) {
	m.Handle(http.MethodGet, "/helix/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("login") != login {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]string{
				{"id": userID, "login": login, "display_name": displayName, "profile_image_url": "https://static-cdn.example/" + login + ".png"},
			},
		})
	})
}

// MockChannelResponse adds a handler for GET /helix/channels.
func (m *MockTwitchServer) MockChannelResponse(broadcasterID, title, gameName string) {
	m.Handle(http.MethodGet, "/helix/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]string{
				{"broadcaster_id": broadcasterID, "title": title, "game_name": gameName},
			},
		})
	})
}

// MockSubscriptions serves the EventSub subscription endpoints from an in-memory list.
func (m *MockTwitchServer) MockSubscriptions(existing []map[string]any) {
	var mu sync.Mutex
	subs := append([]map[string]any(nil), existing...)
	m.Handle("", "/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"data": subs, "total": len(subs), "pagination": map[string]any{}})
		case http.MethodPost:
			var sub map[string]any
			if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
				return
			}
			sub["id"] = "sub-" + sub["type"].(string)
			sub["status"] = "webhook_callback_verification_pending"
			if tr, ok := sub["transport"].(map[string]any); ok {
				delete(tr, "secret")
			}
			subs = append(subs, sub)
			writeJSON(w, http.StatusAccepted, map[string]any{"data": []any{sub}})
		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			for i, s := range subs {
				if s["id"] == id {
					subs = append(subs[:i], subs[i+1:]...)
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "subscription not found"})
		}
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle(http.MethodPost, "/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}
