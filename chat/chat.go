package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/streambot/eventsub"
	"github.com/onnwee/streambot/telemetry"
)

// maxMessageLen is Twitch's limit for one chat message.
const maxMessageLen = 500

// ErrNotConnected is returned by Say before the first successful connect.
var ErrNotConnected = errors.New("chat not connected")

// TokenFunc returns the bot's current OAuth access token.
type TokenFunc func(ctx context.Context) (string, error)

// Publisher receives chat messages as events.
type Publisher interface {
	Publish(ev eventsub.Event) bool
}

// Client is a reconnecting Twitch chat client for one channel.
type Client struct {
	Channel   string
	Username  string
	Token     TokenFunc
	Publisher Publisher

	mu  sync.Mutex
	irc *twitch.Client
}

// New returns a client for channel that publishes messages to pub.
func New(channel, username string, token TokenFunc, pub Publisher) *Client {
	return &Client{
		Channel:   strings.ToLower(strings.TrimPrefix(channel, "#")),
		Username:  username,
		Token:     token,
		Publisher: pub,
	}
}

// Run connects and stays connected until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	logger := slog.Default().With(slog.String("component", "chat"), slog.String("channel", c.Channel))
	backoff := time.Second
	for {
		start := time.Now()
		err := c.connect(ctx, logger)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		logger.Warn("chat disconnected", slog.Any("err", err), slog.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (c *Client) connect(ctx context.Context, logger *slog.Logger) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no chat token available")
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	irc := twitch.NewClient(c.Username, token)
	irc.OnConnect(func() {
		logger.Info("chat connected")
	})
	irc.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		ev, err := eventsub.NewEvent(eventsub.TypeChatMessage, messageEvent(msg))
		if err != nil {
			logger.Error("encode chat message", slog.Any("err", err))
			return
		}
		ev.MessageID = msg.ID
		ev.Timestamp = msg.Time
		if !c.Publisher.Publish(ev) {
			logger.Warn("chat message dropped", slog.String("user", msg.User.Name))
		}
	})
	irc.Join(c.Channel)

	c.mu.Lock()
	c.irc = irc
	c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = irc.Disconnect()
		case <-done:
		}
	}()
	return irc.Connect()
}

// Say sends text to the channel, split into messages Twitch accepts.
func (c *Client) Say(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	irc := c.irc
	c.mu.Unlock()
	if irc == nil {
		return ErrNotConnected
	}
	for _, part := range split(text, maxMessageLen) {
		irc.Say(c.Channel, part)
		telemetry.IncChatSent()
	}
	return nil
}

// messageEvent converts an IRC message to the bus payload.
func messageEvent(msg twitch.PrivateMessage) eventsub.ChatMessage {
	return eventsub.ChatMessage{
		Channel:       msg.Channel,
		UserID:        msg.User.ID,
		Username:      msg.User.Name,
		DisplayName:   msg.User.DisplayName,
		Message:       msg.Message,
		IsMod:         msg.User.Badges["moderator"] > 0,
		IsBroadcaster: msg.User.Badges["broadcaster"] > 0,
	}
}

// split breaks s into chunks of at most n bytes, preferring word boundaries.
func split(s string, n int) []string {
	var out []string
	for len(s) > n {
		cut := strings.LastIndexByte(s[:n+1], ' ')
		if cut <= 0 {
			cut = n
			for cut > 1 && !utf8Start(s[cut]) {
				cut--
			}
		}
		out = append(out, strings.TrimSpace(s[:cut]))
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// ParseCommand returns the lower-cased command and its arguments when
// message starts with "!". ok is false for ordinary messages.
func ParseCommand(message string) (command, args string, ok bool) {
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, "!") || len(message) == 1 {
		return "", "", false
	}
	command, args, _ = strings.Cut(message, " ")
	return strings.ToLower(command), strings.TrimSpace(args), true
}
