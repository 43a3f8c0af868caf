package overlay

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// readEvent returns the next data frame, skipping comments.
func readEvent(t *testing.T, r *bufio.Reader) Message {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		return m
	}
}

func connect(t *testing.T, srv *httptest.Server) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connect: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	return bufio.NewReader(resp.Body), func() {
		cancel()
		_ = resp.Body.Close()
	}
}

func TestHub_SnapshotAndBroadcast(t *testing.T) {
	hub := NewHub("alert", "popUpMessage")
	hub.OnConnect = func(context.Context) Message { return Message{"followTotal": 42} }
	hub.Broadcast(Message{"popUpMessage": "be nice"})
	hub.Broadcast(Message{"message": "not remembered"})

	srv := httptest.NewServer(hub)
	defer srv.Close()
	r, closeFn := connect(t, srv)
	defer closeFn()

	first := readEvent(t, r)
	if first["popUpMessage"] != "be nice" {
		t.Errorf("snapshot popUpMessage = %v", first["popUpMessage"])
	}
	if first["followTotal"] != float64(42) {
		t.Errorf("snapshot followTotal = %v", first["followTotal"])
	}
	if _, ok := first["message"]; ok {
		t.Error("non-sticky key leaked into snapshot")
	}

	hub.Broadcast(Message{"alert": map[string]any{}})
	hub.Broadcast(Message{"alert": map[string]any{"type": "follow"}})
	cleared := readEvent(t, r)
	show := readEvent(t, r)
	if a, ok := cleared["alert"].(map[string]any); !ok || len(a) != 0 {
		t.Errorf("first frame = %v, want empty alert", cleared)
	}
	if a, ok := show["alert"].(map[string]any); !ok || a["type"] != "follow" {
		t.Errorf("second frame = %v, want follow alert", show)
	}
}

func TestHub_ClientCountTracksDisconnects(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	r, closeFn := connect(t, srv)
	readEvent(t, r)
	if hub.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", hub.Clients())
	}
	closeFn()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 0 {
		t.Fatalf("clients = %d after disconnect", hub.Clients())
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.add()
	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(Message{"n": i})
	}
	if hub.Clients() != 0 {
		t.Fatal("slow client should have been removed")
	}
	n := 0
	for range ch {
		n++
	}
	if n != clientBuffer {
		t.Errorf("buffered %d messages, want %d", n, clientBuffer)
	}
}

func TestHub_RejectsNonGet(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHub().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/overlay/events", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rr.Code)
	}
}
