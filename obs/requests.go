package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Filter is one entry of a source's filter list.
type Filter struct {
	Name    string `json:"filterName"`
	Kind    string `json:"filterKind"`
	Index   int    `json:"filterIndex"`
	Enabled bool   `json:"filterEnabled"`
}

// VisibilityKind tells source and filter visibility events apart.
type VisibilityKind int

const (
	SourceVisibility VisibilityKind = iota
	FilterVisibility
)

// VisibilityEvent reports a source shown/hidden in a scene or a filter toggled on a source.
type VisibilityEvent struct {
	Kind    VisibilityKind
	Scene   string
	Source  string
	Filter  string
	Visible bool
}

// SetSourceVisible shows or hides source in scene.
func (c *Client) SetSourceVisible(ctx context.Context, scene, source string, visible bool) error {
	var item struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := c.Call(ctx, ReqGetSceneItemID, map[string]any{"sceneName": scene, "sourceName": source}, &item); err != nil {
		return fmt.Errorf("find %q in scene %q: %w", source, scene, err)
	}
	return c.Call(ctx, ReqSetSceneItemEnabled, map[string]any{
		"sceneName":        scene,
		"sceneItemId":      item.SceneItemID,
		"sceneItemEnabled": visible,
	}, nil)
}

// SwitchScene makes scene the program scene.
func (c *Client) SwitchScene(ctx context.Context, scene string) error {
	slog.Info("switching scene", slog.String("scene", scene), slog.String("component", "obs"))
	return c.Call(ctx, ReqSetCurrentProgramScene, map[string]any{"sceneName": scene}, nil)
}

// SetFilterEnabled enables or disables a filter on source.
func (c *Client) SetFilterEnabled(ctx context.Context, source, filter string, enabled bool) error {
	return c.Call(ctx, ReqSetSourceFilterEnabled, map[string]any{
		"sourceName":    source,
		"filterName":    filter,
		"filterEnabled": enabled,
	}, nil)
}

// ToggleFilter flips a filter and returns its new state.
func (c *Client) ToggleFilter(ctx context.Context, source, filter string) (bool, error) {
	var f Filter
	if err := c.Call(ctx, ReqGetSourceFilter, map[string]any{"sourceName": source, "filterName": filter}, &f); err != nil {
		return false, err
	}
	enabled := !f.Enabled
	if err := c.SetFilterEnabled(ctx, source, filter, enabled); err != nil {
		return f.Enabled, err
	}
	return enabled, nil
}

// ListFilters returns the filters on source.
func (c *Client) ListFilters(ctx context.Context, source string) ([]Filter, error) {
	var out struct {
		Filters []Filter `json:"filters"`
	}
	if err := c.Call(ctx, ReqGetSourceFilterList, map[string]any{"sourceName": source}, &out); err != nil {
		return nil, err
	}
	return out.Filters, nil
}

// sourceForItem resolves a scene item id to its source name, refreshing the
// scene's item list on a cache miss.
func (c *Client) sourceForItem(ctx context.Context, scene string, id int) (string, error) {
	c.mu.Lock()
	name, ok := c.sceneItems[scene][id]
	c.mu.Unlock()
	if ok {
		return name, nil
	}
	var out struct {
		SceneItems []struct {
			SceneItemID int    `json:"sceneItemId"`
			SourceName  string `json:"sourceName"`
		} `json:"sceneItems"`
	}
	if err := c.Call(ctx, ReqGetSceneItemList, map[string]any{"sceneName": scene}, &out); err != nil {
		return "", err
	}
	items := make(map[int]string, len(out.SceneItems))
	for _, it := range out.SceneItems {
		items[it.SceneItemID] = it.SourceName
	}
	c.mu.Lock()
	if c.sceneItems != nil {
		c.sceneItems[scene] = items
	}
	c.mu.Unlock()
	name, ok = items[id]
	if !ok {
		return "", fmt.Errorf("scene item %d not found in %q", id, scene)
	}
	return name, nil
}

// visibilityEvent converts raw visibility events. Other events report false.
func (c *Client) visibilityEvent(ctx context.Context, ev Event) (VisibilityEvent, bool) {
	log := slog.Default().With(slog.String("component", "obs"), slog.String("event", ev.Type))
	switch ev.Type {
	case EventSceneItemEnableStateChanged:
		var d struct {
			SceneName        string `json:"sceneName"`
			SceneItemID      int    `json:"sceneItemId"`
			SceneItemEnabled bool   `json:"sceneItemEnabled"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			log.Warn("malformed event", slog.Any("err", err))
			return VisibilityEvent{}, false
		}
		source, err := c.sourceForItem(ctx, d.SceneName, d.SceneItemID)
		if err != nil {
			log.Warn("cannot resolve scene item", slog.String("scene", d.SceneName), slog.Int("item", d.SceneItemID), slog.Any("err", err))
			return VisibilityEvent{}, false
		}
		return VisibilityEvent{Kind: SourceVisibility, Scene: d.SceneName, Source: source, Visible: d.SceneItemEnabled}, true
	case EventSourceFilterEnableStateChanged:
		var d struct {
			SourceName    string `json:"sourceName"`
			FilterName    string `json:"filterName"`
			FilterEnabled bool   `json:"filterEnabled"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			log.Warn("malformed event", slog.Any("err", err))
			return VisibilityEvent{}, false
		}
		return VisibilityEvent{Kind: FilterVisibility, Source: d.SourceName, Filter: d.FilterName, Visible: d.FilterEnabled}, true
	case "SceneItemCreated", "SceneItemRemoved":
		var d struct {
			SceneName string `json:"sceneName"`
		}
		if json.Unmarshal(ev.Data, &d) == nil {
			c.mu.Lock()
			delete(c.sceneItems, d.SceneName)
			c.mu.Unlock()
		}
	}
	return VisibilityEvent{}, false
}
