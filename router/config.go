package router

import (
	"fmt"
	"time"
)

// Effect kinds usable in redemption, command and first-chatter rules.
const (
	EffectAlert        = "alert"
	EffectTrigger      = "trigger"
	EffectShowSource   = "show_source"
	EffectHideSource   = "hide_source"
	EffectSwitchScene  = "switch_scene"
	EffectToggleFilter = "toggle_filter"
	EffectSay          = "say"
	EffectOverlay      = "overlay"
)

// Effect is one configured reaction. Text fields accept the placeholders
// {user}, {login} and {input}.
type Effect struct {
	Kind    string
	Alert   string
	Message string
	Source  string
	Scene   string
	Filter  string
	Key     string
	Timeout time.Duration
	Delay   time.Duration
}

// Validate reports a missing field for the effect kind.
func (e Effect) Validate() error {
	need := func(field, v string) error {
		if v == "" {
			return fmt.Errorf("%s effect needs %s", e.Kind, field)
		}
		return nil
	}
	switch e.Kind {
	case EffectAlert:
		return need("alert", e.Alert)
	case EffectTrigger, EffectShowSource, EffectHideSource:
		return need("source", e.Source)
	case EffectSwitchScene:
		return need("scene", e.Scene)
	case EffectToggleFilter:
		if err := need("source", e.Source); err != nil {
			return err
		}
		return need("filter", e.Filter)
	case EffectSay:
		return need("message", e.Message)
	case EffectOverlay:
		return need("key", e.Key)
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}

// RedemptionRule reacts to a channel points reward reaching Status.
// An empty Status matches fulfilled redemptions.
type RedemptionRule struct {
	Reward   string
	Status   string
	Cooldown time.Duration
	Effects  []Effect
}

// CommandRule reacts to a chat command such as "!steve".
type CommandRule struct {
	Command  string
	ModOnly  bool
	Cooldown time.Duration
	Effects  []Effect
}

// FirstChatterRule fires once, on the first message from User.
type FirstChatterRule struct {
	User    string
	Effects []Effect
}

// Config holds the router's thresholds and rule tables.
type Config struct {
	// Streamer is the name used in category replies.
	Streamer string
	// Scene is used by show/hide effects without an explicit scene.
	Scene string

	RaidPauseThreshold  int
	FollowPauseDuration time.Duration

	Redemptions   []RedemptionRule
	Commands      []CommandRule
	FirstChatters []FirstChatterRule
}

// Validate checks every rule's effects.
func (c Config) Validate() error {
	for _, r := range c.Redemptions {
		if r.Reward == "" {
			return fmt.Errorf("redemption rule without reward")
		}
		for _, e := range r.Effects {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("redemption %q: %w", r.Reward, err)
			}
		}
	}
	for _, r := range c.Commands {
		if r.Command == "" {
			return fmt.Errorf("command rule without command")
		}
		for _, e := range r.Effects {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("command %q: %w", r.Command, err)
			}
		}
	}
	for _, r := range c.FirstChatters {
		if r.User == "" {
			return fmt.Errorf("first-chatter rule without user")
		}
		for _, e := range r.Effects {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("first-chatter %q: %w", r.User, err)
			}
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.RaidPauseThreshold <= 0 {
		c.RaidPauseThreshold = 50
	}
	if c.FollowPauseDuration <= 0 {
		c.FollowPauseDuration = 5 * time.Minute
	}
	if c.Streamer == "" {
		c.Streamer = "the streamer"
	}
	return c
}

// DefaultConfig is the rule set used when no catalog file is present.
func DefaultConfig() Config {
	return Config{
		Scene:               "Overlays",
		RaidPauseThreshold:  50,
		FollowPauseDuration: 5 * time.Minute,
		Redemptions: []RedemptionRule{
			{Reward: "big drink", Status: "unfulfilled", Effects: []Effect{
				{Kind: EffectShowSource, Source: "Amelia Water Loop"},
			}},
			{Reward: "big drink", Status: "canceled", Effects: []Effect{
				{Kind: EffectHideSource, Source: "Amelia Water Loop"},
			}},
			{Reward: "big drink", Effects: []Effect{
				{Kind: EffectHideSource, Source: "Amelia Water Loop"},
				{Kind: EffectSay, Message: "cheers @{user}, that was a big drink"},
			}},
			{Reward: "big data", Effects: []Effect{{Kind: EffectAlert, Alert: "bigdata"}}},
			{Reward: "ally phil", Effects: []Effect{{Kind: EffectAlert, Alert: "philpunch", Message: "{input}"}}},
			{Reward: "SPACE", Effects: []Effect{
				{Kind: EffectTrigger, Source: "Star Trek Space Video", Timeout: 103 * time.Second},
				{Kind: EffectTrigger, Source: "Star Trek Slideshow", Timeout: 53 * time.Second, Delay: 50 * time.Second},
				{Kind: EffectSay, Message: "hip hop star trek by d-train https://www.youtube.com/watch?v=oTRKrzgVe6Y", Delay: 50 * time.Second},
			}},
			{Reward: "barry", Effects: []Effect{{Kind: EffectTrigger, Source: "Barry Singing", Timeout: 104 * time.Second}}},
			{Reward: "BroomyJagRace", Effects: []Effect{{Kind: EffectTrigger, Source: "BroomyJagRace"}}},
		},
		Commands: []CommandRule{
			{Command: "!steve", Effects: []Effect{{Kind: EffectTrigger, Source: "octopussy", Timeout: 12 * time.Second}}},
			{Command: "!thanos", Cooldown: 15 * time.Second, Effects: []Effect{
				{Kind: EffectTrigger, Source: "Thanos Dancing", Timeout: 15 * time.Second},
			}},
		},
		FirstChatters: []FirstChatterRule{
			{User: "blgsteve", Effects: []Effect{{Kind: EffectTrigger, Source: "octopussy", Timeout: 12 * time.Second}}},
		},
	}
}
