package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/onnwee/streambot/alerts"
	"github.com/onnwee/streambot/obs"
	"github.com/onnwee/streambot/router"
)

// SourceTrigger runs Action when Source is shown or hidden.
type SourceTrigger struct {
	Source string
	Action obs.Action
}

// FilterTrigger runs Action when Filter on Source is enabled or disabled.
type FilterTrigger struct {
	Source string
	Filter string
	Action obs.Action
}

// Catalog is the static rule file: alert types, event rules and visibility triggers.
type Catalog struct {
	Alerts         alerts.Catalog
	Rules          router.Config
	SourceTriggers []SourceTrigger
	FilterTriggers []FilterTrigger
}

// catalogFile mirrors the TOML layout. Durations are integer milliseconds,
// cooldowns integer seconds.
type catalogFile struct {
	Alerts         map[string]alertTypeFile `toml:"alerts"`
	Redemptions    []redemptionFile         `toml:"redemption"`
	Commands       []commandFile            `toml:"command"`
	FirstChatters  []firstChatterFile       `toml:"first_chatter"`
	SourceTriggers []triggerFile            `toml:"source_trigger"`
	FilterTriggers []triggerFile            `toml:"filter_trigger"`
}

type alertTypeFile struct {
	DurationMS   int64  `toml:"duration_ms"`
	DelayAudioMS int64  `toml:"delay_audio_ms"`
	AudioURL     string `toml:"audio_url"`
}

type effectFile struct {
	Kind      string `toml:"kind"`
	Alert     string `toml:"alert"`
	Message   string `toml:"message"`
	Source    string `toml:"source"`
	Scene     string `toml:"scene"`
	Filter    string `toml:"filter"`
	Key       string `toml:"key"`
	TimeoutMS int64  `toml:"timeout_ms"`
	DelayMS   int64  `toml:"delay_ms"`
}

type redemptionFile struct {
	Reward      string       `toml:"reward"`
	Status      string       `toml:"status"`
	CooldownSec int          `toml:"cooldown_sec"`
	Effects     []effectFile `toml:"effect"`
}

type commandFile struct {
	Command     string       `toml:"command"`
	ModOnly     bool         `toml:"mod_only"`
	CooldownSec int          `toml:"cooldown_sec"`
	Effects     []effectFile `toml:"effect"`
}

type firstChatterFile struct {
	User    string       `toml:"user"`
	Effects []effectFile `toml:"effect"`
}

type triggerFile struct {
	Source       string `toml:"source"`
	Filter       string `toml:"filter"`
	Action       string `toml:"action"`
	Scene        string `toml:"scene"`
	TargetSource string `toml:"target_source"`
	TargetFilter string `toml:"target_filter"`
	TimeoutMS    int64  `toml:"timeout_ms"`
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// LoadCatalog reads the TOML catalog at path. A missing file yields
// DefaultCatalog. Alert types in the file override the built-in ones;
// rule and trigger tables replace the defaults when present.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(b)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a TOML catalog.
func ParseCatalog(b []byte) (*Catalog, error) {
	var f catalogFile
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var sm *toml.StrictMissingError
		if errors.As(err, &sm) {
			return nil, fmt.Errorf("unknown catalog keys:\n%s", sm.String())
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	def := DefaultCatalog()
	c := &Catalog{Alerts: def.Alerts, Rules: def.Rules, SourceTriggers: def.SourceTriggers, FilterTriggers: def.FilterTriggers}
	for name, a := range f.Alerts {
		c.Alerts[name] = alerts.Defaults{Duration: ms(a.DurationMS), DelayAudio: ms(a.DelayAudioMS), AudioURL: a.AudioURL}
	}
	if f.Redemptions != nil {
		c.Rules.Redemptions = nil
		for _, r := range f.Redemptions {
			c.Rules.Redemptions = append(c.Rules.Redemptions, router.RedemptionRule{
				Reward: r.Reward, Status: r.Status,
				Cooldown: time.Duration(r.CooldownSec) * time.Second,
				Effects:  effects(r.Effects),
			})
		}
	}
	if f.Commands != nil {
		c.Rules.Commands = nil
		for _, r := range f.Commands {
			c.Rules.Commands = append(c.Rules.Commands, router.CommandRule{
				Command: r.Command, ModOnly: r.ModOnly,
				Cooldown: time.Duration(r.CooldownSec) * time.Second,
				Effects:  effects(r.Effects),
			})
		}
	}
	if f.FirstChatters != nil {
		c.Rules.FirstChatters = nil
		for _, r := range f.FirstChatters {
			c.Rules.FirstChatters = append(c.Rules.FirstChatters, router.FirstChatterRule{User: r.User, Effects: effects(r.Effects)})
		}
	}
	if f.SourceTriggers != nil {
		c.SourceTriggers = nil
		for _, t := range f.SourceTriggers {
			if t.Source == "" {
				return nil, fmt.Errorf("source_trigger without source")
			}
			c.SourceTriggers = append(c.SourceTriggers, SourceTrigger{Source: t.Source, Action: t.action()})
		}
	}
	if f.FilterTriggers != nil {
		c.FilterTriggers = nil
		for _, t := range f.FilterTriggers {
			if t.Source == "" || t.Filter == "" {
				return nil, fmt.Errorf("filter_trigger needs source and filter")
			}
			c.FilterTriggers = append(c.FilterTriggers, FilterTrigger{Source: t.Source, Filter: t.Filter, Action: t.action()})
		}
	}
	if err := c.Rules.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func effects(in []effectFile) []router.Effect {
	out := make([]router.Effect, 0, len(in))
	for _, e := range in {
		out = append(out, router.Effect{
			Kind: e.Kind, Alert: e.Alert, Message: e.Message,
			Source: e.Source, Scene: e.Scene, Filter: e.Filter, Key: e.Key,
			Timeout: ms(e.TimeoutMS), Delay: ms(e.DelayMS),
		})
	}
	return out
}

func (t triggerFile) action() obs.Action {
	return obs.Action{Kind: t.Action, Scene: t.Scene, Source: t.TargetSource, Filter: t.TargetFilter, Timeout: ms(t.TimeoutMS)}
}

// DefaultCatalog is used when no catalog file exists.
func DefaultCatalog() *Catalog {
	toggle := func(filter string) obs.Action {
		return obs.Action{Kind: obs.ActionToggleFilter, Source: "Raw Webcam", Filter: filter}
	}
	mirror := func(source string) obs.Action {
		return obs.Action{Kind: obs.ActionMirrorSource, Scene: "Overlays", Source: source}
	}
	return &Catalog{
		Alerts: alerts.DefaultCatalog(),
		Rules:  router.DefaultConfig(),
		SourceTriggers: []SourceTrigger{
			{Source: "Joycon: A", Action: toggle("Webcam: Recursion Effect")},
			{Source: "Joycon: B", Action: toggle("Webcam: Time Warp Scan")},
			{Source: "Joycon: Y", Action: toggle("Webcam: Trail")},
			{Source: "Joycon: X", Action: obs.Action{Kind: obs.ActionSwitchScene, Scene: "Dance"}},
			{Source: "Joycon: Right Shoulder", Action: obs.Action{Kind: obs.ActionSwitchScene, Scene: "Dance Multiple"}},
		},
		FilterTriggers: []FilterTrigger{
			{Source: "TONOR Microphone", Filter: "Mic: Deep Voice", Action: mirror("MIDI: Bass Spin")},
			{Source: "TONOR Microphone", Filter: "Mic: Delay", Action: mirror("MIDI: Echo")},
			{Source: "TONOR Microphone", Filter: "Mic: Auto-Loop", Action: mirror("MIDI: Auto-loop")},
		},
	}
}
