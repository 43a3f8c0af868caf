// Package router turns domain events into side effects. Rules are pure
// functions of (state, event); the Router owns the state and runs the
// resulting actions outside its lock.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streambot/alerts"
	"github.com/onnwee/streambot/clock"
	"github.com/onnwee/streambot/eventsub"
	"github.com/onnwee/streambot/overlay"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
)

// AlertSender enqueues overlay alerts.
type AlertSender interface {
	Send(req alerts.Request) alerts.Request
}

// Chat sends chat messages.
type Chat interface {
	Say(text string) error
}

// Overlay passes messages through to overlay clients.
type Overlay interface {
	Broadcast(msg overlay.Message)
}

// Triggerer runs overlay trigger sequences.
type Triggerer interface {
	Trigger(ctx context.Context, source string, timeout time.Duration) error
}

// Scenes drives sources, scenes and filters directly.
type Scenes interface {
	SetSourceVisible(ctx context.Context, scene, source string, visible bool) error
	SwitchScene(ctx context.Context, scene string) error
	ToggleFilter(ctx context.Context, source, filter string) (bool, error)
}

// Channel is the Helix surface used by shout-outs, titles and follower counts.
type Channel interface {
	GetUser(ctx context.Context, login string) (twitchapi.User, error)
	ModifyChannel(ctx context.Context, broadcasterID string, edit twitchapi.ChannelEdit) error
	GetFollowerTotal(ctx context.Context, broadcasterID string) (int, error)
}

// Shoutouts returns a custom shout-out message for a login, or "".
type Shoutouts interface {
	CustomShoutout(ctx context.Context, login string) (string, error)
}

// Deps are the Router's outputs. Nil members disable the actions that need them.
type Deps struct {
	Alerts        AlertSender
	Chat          Chat
	Overlay       Overlay
	Triggers      Triggerer
	Scenes        Scenes
	Channel       Channel
	Shoutouts     Shoutouts
	BroadcasterID string
}

var errUnavailable = errors.New("dependency not configured")

type pending struct {
	timer clock.Timer
	gen   uint64
}

// Router applies rules to events and executes the resulting actions.
type Router struct {
	cfg   Config
	deps  Deps
	clock clock.Clock

	mu      sync.Mutex
	state   State
	timers  map[string]pending
	gen     uint64
	stopped bool
}

// New returns a Router with empty state.
func New(cfg Config, deps Deps, c clock.Clock) *Router {
	if c == nil {
		c = clock.Real{}
	}
	return &Router{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		clock:  c,
		state:  State{Spoken: map[string]bool{}, Cooldowns: map[string]bool{}},
		timers: make(map[string]pending),
	}
}

// EventTypes lists the bus event types the router consumes.
func EventTypes() []string {
	return []string{
		eventsub.TypeFollow,
		eventsub.TypeSubscribe,
		eventsub.TypeCheer,
		eventsub.TypeRaid,
		eventsub.TypeChannelUpdate,
		eventsub.TypeRedemptionAdd,
		eventsub.TypeRedemptionUpdate,
		eventsub.TypeChatMessage,
		eventsub.TypeStreamOnline,
		eventsub.TypeStreamOffline,
		eventsub.TypeRevocation,
	}
}

// Subscribe registers the router for every type in EventTypes.
func (r *Router) Subscribe(bus *eventsub.Bus) error {
	for _, t := range EventTypes() {
		if err := bus.Subscribe(t, r.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle applies the rules to ev and runs the resulting actions.
func (r *Router) Handle(ctx context.Context, ev eventsub.Event) error {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "router"), slog.String("type", ev.Type))
	switch ev.Type {
	case eventsub.TypeStreamOnline:
		logger.Info("stream online")
	case eventsub.TypeStreamOffline:
		logger.Info("stream offline")
	case eventsub.TypeRevocation:
		var sub twitchapi.Subscription
		if err := ev.Decode(&sub); err != nil {
			return err
		}
		logger.Warn("subscription revoked", slog.String("id", sub.ID), slog.String("subscription_type", sub.Type), slog.String("status", sub.Status))
		return nil
	}

	r.mu.Lock()
	next, actions, err := Apply(r.cfg, r.state, ev)
	if err == nil {
		r.state = next
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.execute(ctx, actions)
	return nil
}

// State returns a copy of the current state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// SetChannel records the current title and category.
func (r *Router) SetChannel(info ChannelInfo) {
	r.mu.Lock()
	r.state.Channel = info
	r.mu.Unlock()
}

// SetSheetCommands replaces the chat commands loaded from the sheet.
// Names are matched without the leading "!".
func (r *Router) SetSheetCommands(cmds map[string]string) {
	m := make(map[string]string, len(cmds))
	for k, v := range cmds {
		m[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(k), "!"))] = v
	}
	r.mu.Lock()
	r.state.SheetCommands = m
	r.mu.Unlock()
}

// Stop cancels scheduled events and delayed actions.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for k, p := range r.timers {
		p.timer.Stop()
		delete(r.timers, k)
	}
}

// Pending reports whether a scheduled key is waiting to fire.
func (r *Router) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

func (r *Router) execute(ctx context.Context, actions []Action) {
	for _, a := range actions {
		if err := r.run(ctx, a); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("action failed",
				slog.String("component", "router"),
				slog.String("action", fmt.Sprintf("%T", a)),
				slog.Any("err", err))
		}
	}
}

func (r *Router) run(ctx context.Context, a Action) error {
	switch a := a.(type) {
	case SendAlert:
		if r.deps.Alerts == nil {
			return errUnavailable
		}
		r.deps.Alerts.Send(a.Alert)
	case Say:
		if r.deps.Chat == nil {
			return errUnavailable
		}
		return r.deps.Chat.Say(a.Text)
	case Broadcast:
		if r.deps.Overlay == nil {
			return errUnavailable
		}
		r.deps.Overlay.Broadcast(a.Message)
	case Trigger:
		if r.deps.Triggers == nil {
			return errUnavailable
		}
		return r.deps.Triggers.Trigger(ctx, a.Source, a.Timeout)
	case SetSource:
		if r.deps.Scenes == nil {
			return errUnavailable
		}
		return r.deps.Scenes.SetSourceVisible(ctx, a.Scene, a.Source, a.Visible)
	case SwitchScene:
		if r.deps.Scenes == nil {
			return errUnavailable
		}
		return r.deps.Scenes.SwitchScene(ctx, a.Scene)
	case ToggleFilter:
		if r.deps.Scenes == nil {
			return errUnavailable
		}
		_, err := r.deps.Scenes.ToggleFilter(ctx, a.Source, a.Filter)
		return err
	case Delayed:
		actions := a.Actions
		r.schedule("", a.After, func() { r.execute(context.Background(), actions) })
	case Schedule:
		ev := a.Event
		r.schedule(a.Key, a.After, func() {
			if err := r.Handle(context.Background(), ev); err != nil {
				slog.Warn("scheduled event failed", slog.String("component", "router"), slog.String("type", ev.Type), slog.Any("err", err))
			}
		})
	case Cancel:
		r.cancel(a.Key)
	case Shoutout:
		return r.shoutout(ctx, a.Login)
	case SetTitle:
		if r.deps.Channel == nil {
			return errUnavailable
		}
		err := r.deps.Channel.ModifyChannel(ctx, r.deps.BroadcasterID, twitchapi.ChannelEdit{Title: a.Title})
		if err != nil && r.deps.Chat != nil {
			_ = r.deps.Chat.Say(err.Error())
		}
		return err
	case RefreshFollowerTotal:
		if r.deps.Channel == nil || r.deps.Overlay == nil {
			return errUnavailable
		}
		n, err := r.deps.Channel.GetFollowerTotal(ctx, r.deps.BroadcasterID)
		if err != nil {
			return err
		}
		r.deps.Overlay.Broadcast(overlay.Message{"followTotal": n})
	default:
		return fmt.Errorf("unknown action %T", a)
	}
	return nil
}

// schedule runs f after d. An empty key gets a unique one; an existing key
// is replaced.
func (r *Router) schedule(key string, d time.Duration, f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.gen++
	gen := r.gen
	if key == "" {
		key = "delayed:" + strconv.FormatUint(gen, 10)
	}
	if p, ok := r.timers[key]; ok {
		p.timer.Stop()
	}
	t := r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		p, ok := r.timers[key]
		if !ok || p.gen != gen {
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()
		f()
	})
	r.timers[key] = pending{timer: t, gen: gen}
}

func (r *Router) cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.timers[key]; ok {
		p.timer.Stop()
		delete(r.timers, key)
	}
}

func (r *Router) shoutout(ctx context.Context, login string) error {
	if r.deps.Channel == nil {
		return errUnavailable
	}
	user, err := r.deps.Channel.GetUser(ctx, login)
	if errors.Is(err, twitchapi.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up %s: %w", login, err)
	}
	custom := ""
	if r.deps.Shoutouts != nil {
		custom, err = r.deps.Shoutouts.CustomShoutout(ctx, strings.ToLower(user.Login))
		if err != nil {
			slog.Warn("custom shout-out lookup failed", slog.String("component", "router"), slog.String("login", user.Login), slog.Any("err", err))
		}
	}

	payload := map[string]any{
		"user":      map[string]any{"id": user.ID, "login": user.Login, "username": user.DisplayName, "image": user.ProfileImageURL},
		"loadImage": user.ProfileImageURL,
	}
	name := user.DisplayName
	if name == "" {
		name = user.Login
	}
	if custom != "" {
		payload["customShoutOut"] = custom
		name = custom
	}
	var errs []error
	if r.deps.Alerts != nil {
		r.deps.Alerts.Send(alerts.Request{Type: "shout-out", Payload: payload})
	}
	if r.deps.Chat != nil {
		errs = append(errs, r.deps.Chat.Say(fmt.Sprintf("shout out to %s doing something cool over at twitch.tv/%s", name, strings.ToLower(user.Login))))
	}
	return errors.Join(errs...)
}
