package obs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// VisibilityHandler runs when a watched source or filter changes visibility.
type VisibilityHandler func(ctx context.Context, visible bool) error

type filterKey struct{ source, filter string }

// Triggers maps source names and (source, filter) pairs to handlers.
type Triggers struct {
	mu      sync.RWMutex
	sources map[string][]VisibilityHandler
	filters map[filterKey][]VisibilityHandler
}

// NewTriggers returns empty trigger tables.
func NewTriggers() *Triggers {
	return &Triggers{
		sources: make(map[string][]VisibilityHandler),
		filters: make(map[filterKey][]VisibilityHandler),
	}
}

// OnSource registers h for visibility changes of source.
func (t *Triggers) OnSource(source string, h VisibilityHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sources[source] = append(t.sources[source], h)
}

// OnFilter registers h for enable changes of filter on source.
func (t *Triggers) OnFilter(source, filter string, h VisibilityHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := filterKey{source, filter}
	t.filters[k] = append(t.filters[k], h)
}

// FilterSources lists sources that have filter triggers.
func (t *Triggers) FilterSources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k := range t.filters {
		if !seen[k.source] {
			seen[k.source] = true
			out = append(out, k.source)
		}
	}
	sort.Strings(out)
	return out
}

// HandleSource runs the handlers registered for source.
func (t *Triggers) HandleSource(ctx context.Context, source string, visible bool) {
	t.mu.RLock()
	hs := append([]VisibilityHandler(nil), t.sources[source]...)
	t.mu.RUnlock()
	run(ctx, hs, visible, slog.String("source", source))
}

// HandleFilter runs the handlers registered for filter on source.
func (t *Triggers) HandleFilter(ctx context.Context, source, filter string, enabled bool) {
	t.mu.RLock()
	hs := append([]VisibilityHandler(nil), t.filters[filterKey{source, filter}]...)
	t.mu.RUnlock()
	run(ctx, hs, enabled, slog.String("source", source), slog.String("filter", filter))
}

func run(ctx context.Context, hs []VisibilityHandler, visible bool, attrs ...any) {
	log := slog.Default().With(slog.String("component", "triggers")).With(attrs...)
	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("trigger handler panic", slog.Any("panic", r))
				}
			}()
			if err := h(ctx, visible); err != nil {
				log.Error("trigger handler failed", slog.Bool("visible", visible), slog.Any("err", err))
			}
		}()
	}
}

// Action kinds usable in trigger tables.
const (
	ActionToggleFilter = "toggle_filter"
	ActionSwitchScene  = "switch_scene"
	ActionMirrorSource = "mirror_source"
	ActionShowSource   = "show_source"
	ActionHideSource   = "hide_source"
	ActionTrigger      = "trigger"
)

// Action describes what a trigger table entry does.
type Action struct {
	Kind    string
	Scene   string
	Source  string
	Filter  string
	Timeout time.Duration
}

// Handler builds the handler for a. Scene defaults to the sequencer's scene.
func (s *Sequencer) Handler(a Action) (VisibilityHandler, error) {
	scene := a.Scene
	if scene == "" {
		scene = s.scene
	}
	switch a.Kind {
	case ActionToggleFilter:
		if a.Source == "" || a.Filter == "" {
			return nil, fmt.Errorf("%s needs source and filter", a.Kind)
		}
		return func(ctx context.Context, _ bool) error {
			_, err := s.surface.ToggleFilter(ctx, a.Source, a.Filter)
			return err
		}, nil
	case ActionSwitchScene:
		if a.Scene == "" {
			return nil, fmt.Errorf("%s needs scene", a.Kind)
		}
		return func(ctx context.Context, _ bool) error {
			return s.surface.SwitchScene(ctx, a.Scene)
		}, nil
	case ActionMirrorSource, ActionShowSource, ActionHideSource:
		if a.Source == "" {
			return nil, fmt.Errorf("%s needs source", a.Kind)
		}
		return func(ctx context.Context, visible bool) error {
			switch a.Kind {
			case ActionShowSource:
				visible = true
			case ActionHideSource:
				visible = false
			}
			return s.surface.SetSourceVisible(ctx, scene, a.Source, visible)
		}, nil
	case ActionTrigger:
		if a.Source == "" {
			return nil, fmt.Errorf("%s needs source", a.Kind)
		}
		return func(ctx context.Context, _ bool) error {
			return s.Trigger(ctx, a.Source, a.Timeout)
		}, nil
	default:
		return nil, fmt.Errorf("unknown trigger action %q", a.Kind)
	}
}
