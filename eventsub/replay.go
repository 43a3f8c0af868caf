package eventsub

import (
	"sync"
	"time"

	"github.com/onnwee/streambot/clock"
)

const (
	// ReplayWindow is how old a delivery may be before it is dropped as stale.
	ReplayWindow = 10 * time.Minute
	// replayRetention keeps ids one second past the staleness window so an id
	// is never forgotten while a redelivery could still pass the age check.
	replayRetention = ReplayWindow + time.Second
)

// Verdict is the outcome of a replay check.
type Verdict int

const (
	Accepted Verdict = iota
	Duplicate
	Stale
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// ReplayGuard remembers recently processed message ids.
type ReplayGuard struct {
	mu    sync.Mutex
	clock clock.Clock
	seen  map[string]clock.Timer
}

// NewReplayGuard returns an empty guard. A nil clock uses the system clock.
func NewReplayGuard(c clock.Clock) *ReplayGuard {
	if c == nil {
		c = clock.Real{}
	}
	return &ReplayGuard{clock: c, seen: make(map[string]clock.Timer)}
}

// ShouldProcess reports whether a delivery is neither a duplicate nor stale.
func (g *ReplayGuard) ShouldProcess(messageID string, timestamp time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLocked(messageID, timestamp) == Accepted
}

// MarkProcessed records messageID until the retention period elapses.
func (g *ReplayGuard) MarkProcessed(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markLocked(messageID)
}

// Admit checks and records a delivery in one step, so two concurrent
// deliveries of the same id cannot both be accepted.
func (g *ReplayGuard) Admit(messageID string, timestamp time.Time) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.checkLocked(messageID, timestamp)
	if v == Accepted {
		g.markLocked(messageID)
	}
	return v
}

// Len returns the number of remembered ids.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *ReplayGuard) checkLocked(messageID string, timestamp time.Time) Verdict {
	if _, ok := g.seen[messageID]; ok {
		return Duplicate
	}
	if g.clock.Now().Sub(timestamp) > ReplayWindow {
		return Stale
	}
	return Accepted
}

func (g *ReplayGuard) markLocked(messageID string) {
	if _, ok := g.seen[messageID]; ok {
		return
	}
	var t clock.Timer
	t = g.clock.AfterFunc(replayRetention, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.seen[messageID] == t {
			delete(g.seen, messageID)
		}
	})
	g.seen[messageID] = t
}
