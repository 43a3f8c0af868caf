package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/streambot/obs"
	"github.com/onnwee/streambot/router"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "OBS_WEBSOCKET_ADDRESS", "SHEET_POLL_INTERVAL", "RAID_PAUSE_THRESHOLD", "FOLLOW_PAUSE_DURATION", "TIMEZONE", "TWITCH_CHANNEL", "STREAMER_NAME"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.OBSAddress != "ws://localhost:4455" || cfg.OBSOverlayScene != "Overlays" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.SheetPollInterval != 5*time.Minute || cfg.FollowPauseDuration != 5*time.Minute || cfg.RaidPauseThreshold != 50 {
		t.Errorf("unexpected rule defaults: %v %v %d", cfg.SheetPollInterval, cfg.FollowPauseDuration, cfg.RaidPauseThreshold)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"SHEET_POLL_INTERVAL", "often"},
		{"FOLLOW_PAUSE_DURATION", "-1m"},
		{"RAID_PAUSE_THRESHOLD", "fifty"},
		{"TIMEZONE", "Mars/Olympus_Mons"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Load() err = %v, want mention of %s", err, tt.key)
			}
		})
	}
}

func TestStreamerNameFallsBackToChannel(t *testing.T) {
	t.Setenv("STREAMER_NAME", "")
	t.Setenv("TWITCH_CHANNEL", "#zac")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TwitchChannel != "zac" || cfg.StreamerName != "zac" {
		t.Errorf("channel=%q streamer=%q", cfg.TwitchChannel, cfg.StreamerName)
	}
}

func TestValidateWebhookReady(t *testing.T) {
	cfg := &Config{
		PublicURL:            "https://bot.example.com",
		TwitchClientID:       "id",
		TwitchClientSecret:   "secret",
		TwitchBroadcasterID:  "100",
		TwitchEventSubSecret: "0123456789abcdef",
	}
	if err := cfg.ValidateWebhookReady(); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	cfg.TwitchEventSubSecret = "short"
	if err := cfg.ValidateWebhookReady(); err == nil {
		t.Error("expected error for short secret")
	}
	cfg.PublicURL = ""
	cfg.TwitchEventSubSecret = ""
	err := cfg.ValidateWebhookReady()
	if err == nil || !strings.Contains(err.Error(), "PUBLIC_URL, TWITCH_EVENTSUB_SECRET") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateChatReady(t *testing.T) {
	cfg := &Config{TwitchChannel: "chan", TwitchBotUsername: "bot"}
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	cfg.TwitchChannel = ""
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error when missing twitch envs")
	}
}

func TestSheetsEnabled(t *testing.T) {
	if (&Config{GoogleSheetID: "x"}).SheetsEnabled() {
		t.Error("sheet without credentials should be disabled")
	}
	if !(&Config{GoogleSheetID: "x", GoogleSheetsAPIKey: "k"}).SheetsEnabled() {
		t.Error("sheet with api key should be enabled")
	}
}

func TestLoadCatalogMissingFileUsesDefaults(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Alerts["follow"]; !ok {
		t.Error("default alerts missing")
	}
	if len(c.Rules.Redemptions) == 0 || len(c.SourceTriggers) == 0 || len(c.FilterTriggers) == 0 {
		t.Error("default rules or triggers missing")
	}
}

func TestLoadExampleCatalog(t *testing.T) {
	c, err := LoadCatalog(filepath.Join("..", "streambot.example.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Alerts["shout-out"]; got.Duration != 10*time.Second || got.DelayAudio != 3100*time.Millisecond {
		t.Errorf("shout-out alert = %+v", got)
	}
	if _, ok := c.Alerts["philpunch"]; !ok {
		t.Error("built-in alert types should survive a partial alerts table")
	}

	var space router.RedemptionRule
	for _, r := range c.Rules.Redemptions {
		if r.Reward == "SPACE" {
			space = r
		}
	}
	if space.Cooldown != 3*time.Minute || len(space.Effects) != 3 {
		t.Fatalf("SPACE rule = %+v", space)
	}
	if e := space.Effects[1]; e.Kind != router.EffectTrigger || e.Timeout != 53*time.Second || e.Delay != 50*time.Second {
		t.Errorf("SPACE effect[1] = %+v", e)
	}

	if len(c.Rules.Commands) != 2 || !c.Rules.Commands[1].ModOnly {
		t.Errorf("commands = %+v", c.Rules.Commands)
	}
	if len(c.SourceTriggers) != 2 || c.SourceTriggers[0].Action.Kind != obs.ActionToggleFilter || c.SourceTriggers[0].Action.Filter != "Webcam: Recursion Effect" {
		t.Errorf("source triggers = %+v", c.SourceTriggers)
	}
	if len(c.FilterTriggers) != 1 || c.FilterTriggers[0].Action.Source != "MIDI: Bass Spin" {
		t.Errorf("filter triggers = %+v", c.FilterTriggers)
	}
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"unknown key", "[[command]]\ncommand = \"!x\"\ncooldown = 5\n", "unknown catalog keys"},
		{"bad effect", "[[command]]\ncommand = \"!x\"\n[[command.effect]]\nkind = \"alert\"\n", "needs alert"},
		{"filter trigger", "[[filter_trigger]]\nsource = \"mic\"\naction = \"toggle_filter\"\n", "needs source and filter"},
		{"syntax", "[[command]\n", "decode catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.toml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadCatalogUnreadable(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadCatalog(dir); err == nil {
		t.Error("expected error reading a directory")
	}
}
