package router

import (
	"time"

	"github.com/onnwee/streambot/alerts"
	"github.com/onnwee/streambot/eventsub"
	"github.com/onnwee/streambot/overlay"
)

// Action is a side effect produced by a rule and run by the Router.
type Action interface {
	action()
}

// SendAlert enqueues an overlay alert.
type SendAlert struct{ Alert alerts.Request }

// Say sends a chat message.
type Say struct{ Text string }

// Broadcast passes a message through to overlay clients.
type Broadcast struct{ Message overlay.Message }

// Trigger runs the overlay trigger sequence for Source.
type Trigger struct {
	Source  string
	Timeout time.Duration
}

// SetSource shows or hides a source in a scene.
type SetSource struct {
	Scene   string
	Source  string
	Visible bool
}

// SwitchScene changes the program scene.
type SwitchScene struct{ Scene string }

// ToggleFilter flips a filter on a source.
type ToggleFilter struct{ Source, Filter string }

// Delayed runs Actions after a delay.
type Delayed struct {
	After   time.Duration
	Actions []Action
}

// Schedule feeds Event back into the router after a delay. Scheduling a key
// that is already pending replaces it.
type Schedule struct {
	Key   string
	After time.Duration
	Event eventsub.Event
}

// Cancel drops a pending Schedule.
type Cancel struct{ Key string }

// Shoutout looks up Login and announces them.
type Shoutout struct{ Login string }

// SetTitle changes the stream title.
type SetTitle struct{ Title string }

// RefreshFollowerTotal fetches the follower count and passes it to overlays.
type RefreshFollowerTotal struct{}

func (SendAlert) action()            {}
func (Say) action()                  {}
func (Broadcast) action()            {}
func (Trigger) action()              {}
func (SetSource) action()            {}
func (SwitchScene) action()          {}
func (ToggleFilter) action()         {}
func (Delayed) action()              {}
func (Schedule) action()             {}
func (Cancel) action()               {}
func (Shoutout) action()             {}
func (SetTitle) action()             {}
func (RefreshFollowerTotal) action() {}
