package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	fakeOBSSalt      = "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI="
	fakeOBSChallenge = "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY="

	// OBSSuccess is the request status code for success.
	OBSSuccess = 100
)

// OBSRequest is a request received by FakeOBS.
type OBSRequest struct {
	Type string
	Data map[string]any
}

// OBSHandler answers one request type. A code other than OBSSuccess fails the request.
type OBSHandler func(data map[string]any) (resp any, code int, comment string)

// FakeOBS is an obs-websocket v5 server for tests.
type FakeOBS struct {
	*httptest.Server
	Password  string
	Available []string

	mu       sync.Mutex
	handlers map[string]OBSHandler
	received []OBSRequest
	conns    map[*websocket.Conn]*sync.Mutex
}

// NewFakeOBS starts a fake server advertising available requests.
func NewFakeOBS(t *testing.T, password string, available ...string) *FakeOBS {
	t.Helper()
	f := &FakeOBS{
		Password:  password,
		Available: append([]string{"GetVersion"}, available...),
		handlers:  make(map[string]OBSHandler),
		conns:     make(map[*websocket.Conn]*sync.Mutex),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.serve(conn)
	}))
	t.Cleanup(func() {
		f.CloseClients()
		f.Close()
	})
	return f
}

// URL returns the websocket address of the server.
func (f *FakeOBS) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

// Handle sets the handler for requestType. Unhandled requests succeed with no data.
func (f *FakeOBS) Handle(requestType string, h OBSHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[requestType] = h
}

// Received returns the requests seen so far, GetVersion excluded.
func (f *FakeOBS) Received() []OBSRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OBSRequest(nil), f.received...)
}

// Clients returns the number of identified connections.
func (f *FakeOBS) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// CloseClients drops every connection.
func (f *FakeOBS) CloseClients() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		_ = c.Close()
	}
}

// Emit sends an event to every identified client.
func (f *FakeOBS) Emit(eventType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c, wmu := range f.conns {
		wmu.Lock()
		_ = writeOBS(c, 5, map[string]any{"eventType": eventType, "eventIntent": 0, "eventData": data})
		wmu.Unlock()
	}
}

func writeOBS(c *websocket.Conn, op int, d any) error {
	return c.WriteJSON(map[string]any{"op": op, "d": d})
}

func fakeOBSAuth(password string) string {
	secret := sha256.Sum256([]byte(password + fakeOBSSalt))
	sum := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(secret[:]) + fakeOBSChallenge))
	return base64.StdEncoding.EncodeToString(sum[:])
}

type obsFrame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func (f *FakeOBS) serve(c *websocket.Conn) {
	defer c.Close()
	hello := map[string]any{"obsWebSocketVersion": "5.1.0", "rpcVersion": 1}
	if f.Password != "" {
		hello["authentication"] = map[string]string{"challenge": fakeOBSChallenge, "salt": fakeOBSSalt}
	}
	if err := writeOBS(c, 0, hello); err != nil {
		return
	}
	var in obsFrame
	if err := c.ReadJSON(&in); err != nil || in.Op != 1 {
		return
	}
	var id struct {
		Authentication string `json:"authentication"`
	}
	_ = json.Unmarshal(in.D, &id)
	if f.Password != "" && id.Authentication != fakeOBSAuth(f.Password) {
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(4009, "Authentication failed."), time.Now().Add(time.Second))
		return
	}
	wmu := &sync.Mutex{}
	f.mu.Lock()
	f.conns[c] = wmu
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.conns, c)
		f.mu.Unlock()
	}()
	wmu.Lock()
	err := writeOBS(c, 2, map[string]any{"negotiatedRpcVersion": 1})
	wmu.Unlock()
	if err != nil {
		return
	}

	for {
		if err := c.ReadJSON(&in); err != nil {
			return
		}
		if in.Op != 6 {
			continue
		}
		var req struct {
			RequestType string         `json:"requestType"`
			RequestID   string         `json:"requestId"`
			RequestData map[string]any `json:"requestData"`
		}
		if err := json.Unmarshal(in.D, &req); err != nil {
			continue
		}
		var resp any
		code, comment := OBSSuccess, ""
		if req.RequestType == "GetVersion" {
			resp = map[string]any{"obsVersion": "30.0.0", "obsWebSocketVersion": "5.1.0", "availableRequests": f.Available}
		} else {
			f.mu.Lock()
			f.received = append(f.received, OBSRequest{Type: req.RequestType, Data: req.RequestData})
			h := f.handlers[req.RequestType]
			f.mu.Unlock()
			if h != nil {
				resp, code, comment = h(req.RequestData)
			}
		}
		out := map[string]any{
			"requestType":   req.RequestType,
			"requestId":     req.RequestID,
			"requestStatus": map[string]any{"result": code == OBSSuccess, "code": code, "comment": comment},
		}
		if resp != nil {
			out["responseData"] = resp
		}
		wmu.Lock()
		err := writeOBS(c, 7, out)
		wmu.Unlock()
		if err != nil {
			return
		}
	}
}
