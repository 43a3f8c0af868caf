// Package obs drives OBS Studio over obs-websocket v5: a reconnecting client,
// scene/source/filter helpers, the overlay trigger sequencer and the tables of
// handlers run when sources or filters change visibility.
package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/streambot/telemetry"
)

const (
	defaultRequestTimeout = 5 * time.Second
	handshakeTimeout      = 10 * time.Second
	minBackoff            = time.Second
	maxBackoff            = 30 * time.Second
	eventBuffer           = 64
)

// Event is a raw control surface event.
type Event struct {
	Type string
	Data json.RawMessage
}

// Client is a reconnecting obs-websocket v5 client.
type Client struct {
	Address        string
	Password       string
	Dialer         *websocket.Dialer
	RequestTimeout time.Duration

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	available  map[string]bool
	pending    map[string]chan responseFrame
	onEvent    []func(context.Context, Event)
	onVisible  []func(context.Context, VisibilityEvent)
	onConnect  []func(context.Context)
	sceneItems map[string]map[int]string

	events chan Event
}

// NewClient returns a client for address (ws://host:port). Call Run to connect.
func NewClient(address, password string) *Client {
	return &Client{
		Address:    address,
		Password:   password,
		events:     make(chan Event, eventBuffer),
		sceneItems: make(map[string]map[int]string),
	}
}

// OnEvent registers a handler for every event.
func (c *Client) OnEvent(h func(context.Context, Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = append(c.onEvent, h)
}

// OnVisibility registers a handler for source and filter visibility changes.
func (c *Client) OnVisibility(h func(context.Context, VisibilityEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onVisible = append(c.onVisible, h)
}

// OnConnect registers a hook run after every successful identification.
func (c *Client) OnConnect(h func(context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, h)
}

// Connected reports whether an identified session is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Available reports whether the server advertised requestType.
func (c *Client) Available(requestType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available[requestType]
}

// Run keeps a session open until ctx is canceled, reconnecting with backoff.
func (c *Client) Run(ctx context.Context) {
	log := slog.Default().With(slog.String("component", "obs"))
	go c.dispatch(ctx)
	backoff := minBackoff
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			backoff = minBackoff
		}
		log.Warn("obs connection lost, retrying", slog.String("address", c.Address), slog.Duration("backoff", backoff), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connection. established is true once identification succeeded.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, c.Address, http.Header{})
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.Address, err)
	}
	defer conn.Close()

	if err := c.identify(conn); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan responseFrame)
	c.sceneItems = make(map[string]map[int]string)
	c.mu.Unlock()
	defer c.teardown()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	var version struct {
		ObsVersion          string   `json:"obsVersion"`
		ObsWebSocketVersion string   `json:"obsWebSocketVersion"`
		AvailableRequests   []string `json:"availableRequests"`
	}
	if err := c.call(ctx, ReqGetVersion, nil, &version); err != nil {
		_ = conn.Close()
		<-readErr
		return false, fmt.Errorf("get version: %w", err)
	}

	c.mu.Lock()
	c.available = make(map[string]bool, len(version.AvailableRequests))
	for _, r := range version.AvailableRequests {
		c.available[r] = true
	}
	c.connected = true
	hooks := append([]func(context.Context){}, c.onConnect...)
	c.mu.Unlock()
	telemetry.UpdateControlSurfaceGauge(true)
	slog.Info("obs connected", slog.String("component", "obs"), slog.String("obs_version", version.ObsVersion),
		slog.String("websocket_version", version.ObsWebSocketVersion), slog.Int("requests", len(version.AvailableRequests)))

	go func() {
		for _, h := range hooks {
			safeRun(func() { h(ctx) })
		}
	}()

	select {
	case <-ctx.Done():
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
		<-readErr
		return true, ctx.Err()
	case err := <-readErr:
		return true, err
	}
}

func (c *Client) identify(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if f.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", f.Op)
	}
	var h hello
	if err := json.Unmarshal(f.D, &h); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	id := identify{RPCVersion: rpcVersion, EventSubscriptions: eventSubscriptions}
	if h.Authentication != nil {
		if c.Password == "" {
			return errors.New("obs requires a password but none is configured")
		}
		id.Authentication = authResponse(c.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := c.write(conn, opIdentify, id); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	if err := conn.ReadJSON(&f); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if f.Op != opIdentified {
		return fmt.Errorf("expected identified, got op %d", f.Op)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, op int, v any) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame{Op: op, D: d})
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Op {
		case opRequestResponse:
			var r responseFrame
			if err := json.Unmarshal(f.D, &r); err != nil {
				slog.Warn("obs: bad request response", slog.Any("err", err), slog.String("component", "obs"))
				continue
			}
			c.mu.Lock()
			ch := c.pending[r.RequestID]
			delete(c.pending, r.RequestID)
			c.mu.Unlock()
			if ch != nil {
				ch <- r
			}
		case opEvent:
			var e eventFrame
			if err := json.Unmarshal(f.D, &e); err != nil {
				continue
			}
			select {
			case c.events <- Event{Type: e.EventType, Data: e.EventData}:
			default:
				slog.Warn("obs event queue full, dropping", slog.String("event", e.EventType), slog.String("component", "obs"))
			}
		}
	}
}

// teardown fails pending requests and marks the client disconnected.
func (c *Client) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.conn = nil
	c.available = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	telemetry.UpdateControlSurfaceGauge(false)
}

// Call sends a request and decodes responseData into out (which may be nil).
// It fails fast with ErrNotConnected or ErrUnsupportedRequest.
func (c *Client) Call(ctx context.Context, requestType string, data, out any) error {
	c.mu.Lock()
	connected, available := c.connected, c.available[requestType]
	n := len(c.available)
	c.mu.Unlock()
	if !connected {
		telemetry.IncControlRequest(requestType, "unavailable")
		return fmt.Errorf("%s: %w", requestType, ErrNotConnected)
	}
	if !available {
		telemetry.IncControlRequest(requestType, "unsupported")
		slog.Debug("obs request not advertised", slog.String("request", requestType), slog.Int("available", n), slog.String("component", "obs"))
		return fmt.Errorf("%w: %q is not among the %d requests the server advertised", ErrUnsupportedRequest, requestType, n)
	}
	err := c.call(ctx, requestType, data, out)
	if err != nil {
		telemetry.IncControlRequest(requestType, "error")
		return err
	}
	telemetry.IncControlRequest(requestType, "ok")
	return nil
}

func (c *Client) call(ctx context.Context, requestType string, data, out any) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.pending == nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", requestType, ErrNotConnected)
	}
	id := uuid.NewString()
	ch := make(chan responseFrame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	if err := c.write(conn, opRequest, requestFrame{RequestType: requestType, RequestID: id, RequestData: data}); err != nil {
		forget()
		return fmt.Errorf("%s: %w: %v", requestType, ErrNotConnected, err)
	}

	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case r, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", requestType, ErrNotConnected)
		}
		if !r.RequestStatus.Result {
			return &RequestError{RequestType: requestType, Code: r.RequestStatus.Code, Comment: r.RequestStatus.Comment}
		}
		if out != nil && len(r.ResponseData) > 0 {
			if err := json.Unmarshal(r.ResponseData, out); err != nil {
				return fmt.Errorf("decode %s response: %w", requestType, err)
			}
		}
		return nil
	case <-ctx.Done():
		forget()
		return fmt.Errorf("%s: %w", requestType, ctx.Err())
	}
}

// dispatch delivers events off the read loop so handlers may issue requests.
func (c *Client) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.mu.Lock()
			raw := append([]func(context.Context, Event){}, c.onEvent...)
			vis := append([]func(context.Context, VisibilityEvent){}, c.onVisible...)
			c.mu.Unlock()
			for _, h := range raw {
				safeRun(func() { h(ctx, ev) })
			}
			if len(vis) == 0 {
				continue
			}
			ve, ok := c.visibilityEvent(ctx, ev)
			if !ok {
				continue
			}
			for _, h := range vis {
				safeRun(func() { h(ctx, ve) })
			}
		}
	}
}

func safeRun(f func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("obs handler panic", slog.Any("panic", r), slog.String("component", "obs"))
		}
	}()
	f()
}
