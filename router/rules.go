package router

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/streambot/alerts"
	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/eventsub"
	"github.com/onnwee/streambot/overlay"
)

// Event types the router schedules for itself.
const (
	TypeFollowResume = "router.follow_resume"
	TypeCooldownEnd  = "router.cooldown_end"
)

const followResumeKey = "follow_resume"

// followResume is the payload of TypeFollowResume.
type followResume struct {
	Announce string `json:"announce"`
}

// cooldownEnd is the payload of TypeCooldownEnd.
type cooldownEnd struct {
	Key string `json:"key"`
}

// ChannelInfo is the last known stream title and category.
type ChannelInfo struct {
	Title    string
	Category string
}

// State is everything the rules remember between events.
type State struct {
	FollowAlertsPaused bool
	Spoken             map[string]bool
	Cooldowns          map[string]bool
	Channel            ChannelInfo
	PopUpMessage       string
	SheetCommands      map[string]string
}

func (s State) clone() State {
	c := s
	c.Spoken = cloneSet(s.Spoken)
	c.Cooldowns = cloneSet(s.Cooldowns)
	return c
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Apply computes the next state and the actions for ev. It has no side
// effects; s is not modified.
func Apply(cfg Config, s State, ev eventsub.Event) (State, []Action, error) {
	next := s.clone()
	var (
		actions []Action
		err     error
	)
	switch ev.Type {
	case eventsub.TypeFollow:
		var f eventsub.Follow
		if err = ev.Decode(&f); err == nil {
			actions = follow(next, f)
		}
	case eventsub.TypeSubscribe:
		var sub eventsub.Subscribe
		if err = ev.Decode(&sub); err == nil {
			actions = subscribe(sub)
		}
	case eventsub.TypeCheer:
		var c eventsub.Cheer
		if err = ev.Decode(&c); err == nil {
			actions = cheer(c)
		}
	case eventsub.TypeRaid:
		var r eventsub.Raid
		if err = ev.Decode(&r); err == nil {
			actions = raid(cfg, &next, r)
		}
	case eventsub.TypeChannelUpdate:
		var u eventsub.ChannelUpdate
		if err = ev.Decode(&u); err == nil {
			next.Channel = ChannelInfo{Title: u.Title, Category: u.CategoryName}
		}
	case eventsub.TypeRedemptionAdd, eventsub.TypeRedemptionUpdate:
		var r eventsub.Redemption
		if err = ev.Decode(&r); err == nil {
			actions = redemption(cfg, &next, r)
		}
	case eventsub.TypeChatMessage:
		var m eventsub.ChatMessage
		if err = ev.Decode(&m); err == nil {
			actions = message(cfg, &next, m)
		}
	case TypeFollowResume:
		var r followResume
		if err = ev.Decode(&r); err == nil {
			next.FollowAlertsPaused = false
			if r.Announce != "" {
				actions = append(actions, Say{Text: r.Announce})
			}
		}
	case TypeCooldownEnd:
		var c cooldownEnd
		if err = ev.Decode(&c); err == nil {
			delete(next.Cooldowns, c.Key)
		}
	}
	if err != nil {
		return s, nil, err
	}
	return next, actions, nil
}

func userPayload(id, login, name string) map[string]any {
	return map[string]any{"id": id, "login": login, "username": name}
}

func alert(alertType string, payload map[string]any) Action {
	return SendAlert{Alert: alerts.Request{Type: alertType, Payload: payload}}
}

func follow(s State, f eventsub.Follow) []Action {
	if s.FollowAlertsPaused {
		return nil
	}
	return []Action{
		alert("follow", map[string]any{"user": userPayload(f.UserID, f.UserLogin, f.UserName)}),
		Say{Text: fmt.Sprintf("hi @%s, thanks for following!", f.UserName)},
		RefreshFollowerTotal{},
	}
}

func subscribe(sub eventsub.Subscribe) []Action {
	text := fmt.Sprintf("hi @%s, thanks for the sub!", sub.UserName)
	if sub.IsGift {
		text = fmt.Sprintf("thanks for gifting a sub to @%s", sub.UserName)
	}
	return []Action{
		alert("subscribe", map[string]any{
			"user":   userPayload(sub.UserID, sub.UserLogin, sub.UserName),
			"isGift": sub.IsGift,
			"tier":   sub.Tier,
		}),
		Say{Text: text},
	}
}

func cheer(c eventsub.Cheer) []Action {
	payload := map[string]any{
		"bits":        c.Bits,
		"message":     c.Message,
		"isAnonymous": c.IsAnonymous,
	}
	name := "bill gates"
	if !c.IsAnonymous {
		payload["user"] = userPayload(c.UserID, c.UserLogin, c.UserName)
		name = "@" + c.UserName
	}
	return []Action{
		alert("bits", payload),
		Say{Text: fmt.Sprintf("hi %s, thanks for the bits!", name)},
	}
}

func raid(cfg Config, s *State, r eventsub.Raid) []Action {
	var actions []Action
	if r.Viewers > cfg.RaidPauseThreshold {
		actions = append(actions, pauseFollows(cfg, s, "big raid, follow alerts paused for %s", "follow alerts will happen again chief")...)
	}
	return append(actions,
		alert("raid", map[string]any{
			"user":    userPayload(r.FromBroadcasterUserID, r.FromBroadcasterUserLogin, r.FromBroadcasterUserName),
			"viewers": r.Viewers,
		}),
		Say{Text: fmt.Sprintf("hi @%s, thanks for the raid! hi to the %d raiders.", r.FromBroadcasterUserName, r.Viewers)},
	)
}

// pauseFollows pauses follow alerts and schedules the resume. announce takes
// the formatted pause duration.
func pauseFollows(cfg Config, s *State, announce, resume string) []Action {
	s.FollowAlertsPaused = true
	ev := internalEvent(TypeFollowResume, followResume{Announce: resume})
	return []Action{
		Say{Text: fmt.Sprintf(announce, humanDuration(cfg.FollowPauseDuration))},
		Schedule{Key: followResumeKey, After: cfg.FollowPauseDuration, Event: ev},
	}
}

func humanDuration(d time.Duration) string {
	if d == time.Minute {
		return "1 min"
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d mins", int(d/time.Minute))
	}
	return d.String()
}

func redemption(cfg Config, s *State, r eventsub.Redemption) []Action {
	status := r.Status
	if status == "" {
		status = eventsub.RedemptionUnfulfilled
	}
	vars := map[string]string{"user": r.UserName, "login": r.UserLogin, "input": r.UserInput}
	var actions []Action
	for _, rule := range cfg.Redemptions {
		want := rule.Status
		if want == "" {
			want = eventsub.RedemptionFulfilled
		}
		if rule.Reward != r.Reward.Title || want != status {
			continue
		}
		key := "redemption:" + rule.Reward + ":" + want
		if s.Cooldowns[key] {
			continue
		}
		actions = append(actions, cooldown(s, key, rule.Cooldown)...)
		actions = append(actions, effects(cfg, rule.Effects, vars)...)
	}
	return actions
}

func cooldown(s *State, key string, d time.Duration) []Action {
	if d <= 0 {
		return nil
	}
	s.Cooldowns[key] = true
	return []Action{Schedule{Key: "cooldown:" + key, After: d, Event: internalEvent(TypeCooldownEnd, cooldownEnd{Key: key})}}
}

var placeholders = []string{"{user}", "{login}", "{input}"}

func render(text string, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	pairs := make([]string, 0, len(placeholders)*2)
	for _, p := range placeholders {
		pairs = append(pairs, p, vars[strings.Trim(p, "{}")])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// effects converts configured effects into actions. Delayed effects are
// grouped by delay, keeping their configured order.
func effects(cfg Config, list []Effect, vars map[string]string) []Action {
	var (
		now     []Action
		delayed []Action
		byDelay = map[time.Duration]int{}
	)
	for _, e := range list {
		a := effect(cfg, e, vars)
		if a == nil {
			continue
		}
		if e.Delay <= 0 {
			now = append(now, a)
			continue
		}
		if i, ok := byDelay[e.Delay]; ok {
			d := delayed[i].(Delayed)
			d.Actions = append(d.Actions, a)
			delayed[i] = d
			continue
		}
		byDelay[e.Delay] = len(delayed)
		delayed = append(delayed, Delayed{After: e.Delay, Actions: []Action{a}})
	}
	return append(now, delayed...)
}

func effect(cfg Config, e Effect, vars map[string]string) Action {
	scene := e.Scene
	if scene == "" {
		scene = cfg.Scene
	}
	switch e.Kind {
	case EffectAlert:
		var payload map[string]any
		if e.Message != "" {
			payload = map[string]any{"message": render(e.Message, vars)}
		}
		return alert(e.Alert, payload)
	case EffectTrigger:
		return Trigger{Source: e.Source, Timeout: e.Timeout}
	case EffectShowSource, EffectHideSource:
		return SetSource{Scene: scene, Source: e.Source, Visible: e.Kind == EffectShowSource}
	case EffectSwitchScene:
		return SwitchScene{Scene: e.Scene}
	case EffectToggleFilter:
		return ToggleFilter{Source: e.Source, Filter: e.Filter}
	case EffectSay:
		return Say{Text: render(e.Message, vars)}
	case EffectOverlay:
		return Broadcast{Message: overlay.Message{e.Key: render(e.Message, vars)}}
	default:
		return nil
	}
}

func message(cfg Config, s *State, m eventsub.ChatMessage) []Action {
	name := m.DisplayName
	if name == "" {
		name = m.Username
	}
	actions := []Action{Broadcast{Message: overlay.Message{"message": m.Message}}}

	login := strings.ToLower(m.Username)
	for _, rule := range cfg.FirstChatters {
		key := strings.ToLower(rule.User)
		if key != login || s.Spoken[key] {
			continue
		}
		s.Spoken[key] = true
		actions = append(actions, effects(cfg, rule.Effects, map[string]string{"user": name, "login": login})...)
	}

	command, args, ok := chat.ParseCommand(m.Message)
	if !ok {
		return actions
	}
	privileged := m.IsMod || m.IsBroadcaster
	vars := map[string]string{"user": name, "login": login, "input": args}

	for _, rule := range cfg.Commands {
		if !strings.EqualFold(rule.Command, command) || (rule.ModOnly && !privileged) {
			continue
		}
		key := "command:" + strings.ToLower(rule.Command)
		if s.Cooldowns[key] {
			continue
		}
		actions = append(actions, cooldown(s, key, rule.Cooldown)...)
		actions = append(actions, effects(cfg, rule.Effects, vars)...)
	}
	actions = append(actions, builtin(cfg, s, command, args, privileged)...)

	if v, ok := s.SheetCommands[strings.TrimPrefix(command, "!")]; ok && v != "" {
		actions = append(actions, Say{Text: v})
	}
	return actions
}

// builtin handles the commands every channel gets.
func builtin(cfg Config, s *State, command, args string, privileged bool) []Action {
	switch command {
	case "!game", "!category":
		return []Action{Say{Text: categoryReply(cfg.Streamer, s.Channel.Category)}}
	case "!title":
		if privileged && args != "" {
			return []Action{SetTitle{Title: args}}
		}
		if s.Channel.Title == "" {
			return []Action{Say{Text: "there is no stream title"}}
		}
		return []Action{Say{Text: fmt.Sprintf("stream title is %q", s.Channel.Title)}}
	}
	if !privileged {
		return nil
	}
	switch command {
	case "!sign", "!alert":
		if args == "" {
			return nil
		}
		s.PopUpMessage = args
		return []Action{Broadcast{Message: overlay.Message{"popUpMessage": args}}}
	case "!delete":
		s.PopUpMessage = ""
		return []Action{Broadcast{Message: overlay.Message{"popUpMessage": ""}}}
	case "!follows":
		if s.FollowAlertsPaused {
			s.FollowAlertsPaused = false
			return []Action{Cancel{Key: followResumeKey}, Say{Text: "follow alerts will happen again now phew"}}
		}
		return pauseFollows(cfg, s, "follow alerts paused for %s", "follow alerts will happen again")
	case "!say":
		if args == "" {
			return nil
		}
		return []Action{alert("say", map[string]any{"message": args})}
	case "!test-follow":
		return []Action{alert("follow", map[string]any{"user": map[string]any{"username": "ninja"}})}
	case "!so", "!shoutout", "!shout-out":
		fields := strings.Fields(args)
		if len(fields) == 0 {
			return nil
		}
		login := strings.TrimPrefix(fields[0], "@")
		if login == "" {
			return nil
		}
		return []Action{Shoutout{Login: login}}
	}
	return nil
}

func categoryReply(streamer, category string) string {
	switch category {
	case "":
		return fmt.Sprintf("%s isn't doing anything right now", streamer)
	case "Just Chatting":
		return fmt.Sprintf("%s is just chatting", streamer)
	case "Makers & Crafting":
		return fmt.Sprintf("%s is making something", streamer)
	default:
		return fmt.Sprintf("%s is playing %s", streamer, category)
	}
}

// internalEvent builds a scheduled event. Its payload types always marshal.
func internalEvent(eventType string, v any) eventsub.Event {
	b, _ := json.Marshal(v)
	return eventsub.Event{Type: eventType, Payload: b}
}
