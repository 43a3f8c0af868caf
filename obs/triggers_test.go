package obs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/streambot/clock"
)

func TestTriggers_FailuresDoNotBlockOthers(t *testing.T) {
	tr := NewTriggers()
	var got []bool
	tr.OnSource("Joycon: A", func(context.Context, bool) error { panic("boom") })
	tr.OnSource("Joycon: A", func(context.Context, bool) error { return errors.New("nope") })
	tr.OnSource("Joycon: A", func(_ context.Context, v bool) error {
		got = append(got, v)
		return nil
	})
	tr.HandleSource(context.Background(), "Joycon: A", true)
	tr.HandleSource(context.Background(), "Joycon: B", true)
	if len(got) != 1 || !got[0] {
		t.Fatalf("got = %v", got)
	}
}

func TestTriggers_FilterKeyedBySource(t *testing.T) {
	tr := NewTriggers()
	calls := 0
	tr.OnFilter("Mic", "Deep Voice", func(context.Context, bool) error {
		calls++
		return nil
	})
	tr.HandleFilter(context.Background(), "Webcam", "Deep Voice", true)
	tr.HandleFilter(context.Background(), "Mic", "Deep Voice", true)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if srcs := tr.FilterSources(); len(srcs) != 1 || srcs[0] != "Mic" {
		t.Fatalf("FilterSources = %v", srcs)
	}
}

func TestSequencer_Handlers(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	surf := newFakeSurface(fc)
	seq := NewSequencer(surf, "Overlays", fc)
	ctx := context.Background()

	tests := []struct {
		name    string
		action  Action
		visible bool
		want    call
	}{
		{"toggle filter", Action{Kind: ActionToggleFilter, Source: "Raw Webcam", Filter: "Trail"}, true, call{0, "toggle", "Raw Webcam/Trail", true}},
		{"switch scene", Action{Kind: ActionSwitchScene, Scene: "Dance"}, false, call{0, "scene", "Dance", true}},
		{"mirror hidden", Action{Kind: ActionMirrorSource, Source: "MIDI: Echo"}, false, call{0, "visible", "Overlays/MIDI: Echo", false}},
		{"mirror other scene", Action{Kind: ActionMirrorSource, Scene: "Main", Source: "Cam"}, true, call{0, "visible", "Main/Cam", true}},
		{"show ignores state", Action{Kind: ActionShowSource, Source: "Cam"}, false, call{0, "visible", "Overlays/Cam", true}},
		{"hide ignores state", Action{Kind: ActionHideSource, Source: "Cam"}, true, call{0, "visible", "Overlays/Cam", false}},
		{"trigger hides first", Action{Kind: ActionTrigger, Source: "octopussy", Timeout: time.Second}, true, call{0, "visible", "Overlays/octopussy", false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := seq.Handler(tt.action)
			if err != nil {
				t.Fatalf("Handler: %v", err)
			}
			surf.take()
			if err := h(ctx, tt.visible); err != nil {
				t.Fatalf("handler: %v", err)
			}
			got := surf.take()
			if len(got) == 0 || got[0] != tt.want {
				t.Fatalf("calls = %v, want first %v", got, tt.want)
			}
		})
	}

	bad := []Action{
		{Kind: "explode"},
		{Kind: ActionToggleFilter, Source: "x"},
		{Kind: ActionSwitchScene},
		{Kind: ActionMirrorSource},
		{Kind: ActionTrigger},
	}
	for _, a := range bad {
		if _, err := seq.Handler(a); err == nil {
			t.Errorf("Handler(%+v) should fail", a)
		}
	}
}

func TestSequencer_HandleVisibilityAndSync(t *testing.T) {
	fc := clock.NewFake(time.Time{})
	surf := newFakeSurface(fc)
	surf.filters["TONOR Microphone"] = []Filter{{Name: "Mic: Delay", Enabled: true}, {Name: "Mic: Unwatched", Enabled: true}}
	seq := NewSequencer(surf, "Overlays", fc)
	mirror, _ := seq.Handler(Action{Kind: ActionMirrorSource, Source: "MIDI: Echo"})
	seq.OnFilter("TONOR Microphone", "Mic: Delay", mirror)
	scene, _ := seq.Handler(Action{Kind: ActionSwitchScene, Scene: "Dance"})
	seq.OnSource("Joycon: X", scene)
	ctx := context.Background()

	seq.SyncFilters(ctx)
	got := surf.take()
	if len(got) != 2 || got[0].op != "list" || got[1] != (call{0, "visible", "Overlays/MIDI: Echo", true}) {
		t.Fatalf("sync calls = %v", got)
	}

	seq.HandleVisibility(ctx, VisibilityEvent{Kind: FilterVisibility, Source: "TONOR Microphone", Filter: "Mic: Delay", Visible: false})
	seq.HandleVisibility(ctx, VisibilityEvent{Kind: SourceVisibility, Scene: "Controls", Source: "Joycon: X", Visible: true})
	got = surf.take()
	if len(got) != 2 || got[0].visible || got[1].op != "scene" {
		t.Fatalf("visibility calls = %v", got)
	}
}
