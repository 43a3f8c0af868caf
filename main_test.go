package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/obs"
	"github.com/onnwee/streambot/twitchapi"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	want := []string{"serve", "eventsub", "tokens", "shoutouts"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q missing: %v", name, err)
		}
	}
	for _, path := range [][]string{{"eventsub", "list"}, {"eventsub", "sync"}, {"eventsub", "delete"}, {"tokens", "seal"}, {"shoutouts", "set"}} {
		if cmd, _, err := root.Find(path); err != nil || cmd.Name() != path[1] {
			t.Errorf("subcommand %v missing: %v", path, err)
		}
	}
}

func TestEventSubListNeedsCredentials(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	root := newRootCommand()
	root.SetArgs([]string{"eventsub", "list"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "TWITCH_CLIENT_ID") {
		t.Errorf("err = %v", err)
	}
}

func TestSubscriptionTable(t *testing.T) {
	out := subscriptionTable([]twitchapi.Subscription{
		{ID: "b", Type: "channel.raid", Version: "1", Status: "enabled", Transport: twitchapi.Transport{Callback: "https://bot.example/eventSubCallback"}},
		{ID: "a", Type: "channel.follow", Version: "2", Status: "webhook_callback_verification_pending"},
	})
	follow := strings.Index(out, "channel.follow")
	raid := strings.Index(out, "channel.raid")
	if follow < 0 || raid < 0 || follow > raid {
		t.Errorf("table not sorted by type:\n%s", out)
	}
	if !strings.Contains(out, "https://bot.example/eventSubCallback") {
		t.Errorf("callback missing:\n%s", out)
	}
}

type memShoutouts map[string]string

func (m memShoutouts) ListCustomShoutouts(context.Context) (map[string]string, error) { return m, nil }
func (m memShoutouts) SetCustomShoutout(_ context.Context, login, msg string) error {
	m[login] = msg
	return nil
}
func (m memShoutouts) DeleteCustomShoutout(_ context.Context, login string) error {
	delete(m, login)
	return nil
}

func TestListShoutouts(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	if err := listShoutouts(cmd, memShoutouts{"zed": "the last one", "amy": "the first one"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Index(out, "amy") > strings.Index(out, "zed") {
		t.Errorf("logins not sorted:\n%s", out)
	}
}

type nopSurface struct{}

func (nopSurface) SetSourceVisible(context.Context, string, string, bool) error { return nil }
func (nopSurface) SwitchScene(context.Context, string) error                    { return nil }
func (nopSurface) SetFilterEnabled(context.Context, string, string, bool) error { return nil }
func (nopSurface) ToggleFilter(context.Context, string, string) (bool, error)   { return true, nil }
func (nopSurface) ListFilters(context.Context, string) ([]obs.Filter, error)    { return nil, nil }

func TestRegisterTriggers(t *testing.T) {
	seq := obs.NewSequencer(nopSurface{}, "Overlays", nil)
	if err := registerTriggers(seq, config.DefaultCatalog()); err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if len(seq.FilterSources()) == 0 {
		t.Error("default filter triggers not registered")
	}

	bad := &config.Catalog{SourceTriggers: []config.SourceTrigger{{Source: "x", Action: obs.Action{Kind: obs.ActionSwitchScene}}}}
	if err := registerTriggers(obs.NewSequencer(nopSurface{}, "Overlays", nil), bad); err == nil {
		t.Error("expected error for a switch_scene trigger without a scene")
	}
}
