package eventsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/streambot/twitchapi"
)

// Subscription types the bot subscribes to, plus types produced locally.
const (
	TypeStreamOnline     = "stream.online"
	TypeStreamOffline    = "stream.offline"
	TypeFollow           = "channel.follow"
	TypeSubscribe        = "channel.subscribe"
	TypeCheer            = "channel.cheer"
	TypeRaid             = "channel.raid"
	TypeChannelUpdate    = "channel.update"
	TypeRedemptionAdd    = "channel.channel_points_custom_reward_redemption.add"
	TypeRedemptionUpdate = "channel.channel_points_custom_reward_redemption.update"
	TypeRevocation       = "revocation"
	TypeChatMessage      = "chat.message"
)

// Message types carried in HeaderMessageType.
const (
	MessageTypeNotification = "notification"
	MessageTypeRevocation   = "revocation"
	MessageTypeVerification = "webhook_callback_verification"
)

var (
	// ErrMalformedPayload reports a delivery or event body with an unexpected shape.
	ErrMalformedPayload = errors.New("malformed eventsub payload")
	// ErrInvalidSignature reports a delivery whose signature does not verify.
	ErrInvalidSignature = errors.New("invalid eventsub signature")
)

// Event is a domain event published on the Bus.
type Event struct {
	Type         string
	MessageID    string
	Timestamp    time.Time
	Subscription twitchapi.Subscription
	Payload      json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedPayload, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, e.Type, err)
	}
	return nil
}

// NewEvent builds a locally produced event with v marshalled as its payload.
func NewEvent(eventType string, v any) (Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: b}, nil
}

// envelope is the webhook request body.
type envelope struct {
	Subscription twitchapi.Subscription `json:"subscription"`
	Event        json.RawMessage        `json:"event"`
	Challenge    string                 `json:"challenge"`
}

// Follow is the channel.follow payload.
type Follow struct {
	UserID     string    `json:"user_id"`
	UserLogin  string    `json:"user_login"`
	UserName   string    `json:"user_name"`
	FollowedAt time.Time `json:"followed_at"`
}

// Subscribe is the channel.subscribe payload.
type Subscribe struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
	Tier      string `json:"tier"`
	IsGift    bool   `json:"is_gift"`
}

// Cheer is the channel.cheer payload.
type Cheer struct {
	IsAnonymous bool   `json:"is_anonymous"`
	UserID      string `json:"user_id"`
	UserLogin   string `json:"user_login"`
	UserName    string `json:"user_name"`
	Message     string `json:"message"`
	Bits        int    `json:"bits"`
}

// Raid is the channel.raid payload.
type Raid struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	Viewers                  int    `json:"viewers"`
}

// ChannelUpdate is the channel.update payload.
type ChannelUpdate struct {
	Title        string `json:"title"`
	Language     string `json:"language"`
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
}

// StreamOnline is the stream.online payload.
type StreamOnline struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	StartedAt time.Time `json:"started_at"`
}

// Redemption statuses.
const (
	RedemptionUnfulfilled = "unfulfilled"
	RedemptionFulfilled   = "fulfilled"
	RedemptionCanceled    = "canceled"
)

// Redemption is the channel points custom reward redemption payload (add and update).
type Redemption struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	UserLogin  string    `json:"user_login"`
	UserName   string    `json:"user_name"`
	UserInput  string    `json:"user_input"`
	Status     string    `json:"status"`
	RedeemedAt time.Time `json:"redeemed_at"`
	Reward     Reward    `json:"reward"`
}

// Reward is the channel points reward a redemption refers to.
type Reward struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// ChatMessage is published by the chat package for every channel message.
type ChatMessage struct {
	Channel       string `json:"channel"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	Message       string `json:"message"`
	IsMod         bool   `json:"is_mod"`
	IsBroadcaster bool   `json:"is_broadcaster"`
}
