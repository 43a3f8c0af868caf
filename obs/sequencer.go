package obs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streambot/clock"
	"github.com/onnwee/streambot/telemetry"
)

// SettleDelay is the pause between hiding and re-showing a source.
const SettleDelay = 100 * time.Millisecond

const surfaceCallTimeout = 5 * time.Second

// Surface is the part of the control surface the sequencer and trigger
// handlers drive. *Client implements it.
type Surface interface {
	SetSourceVisible(ctx context.Context, scene, source string, visible bool) error
	SwitchScene(ctx context.Context, scene string) error
	SetFilterEnabled(ctx context.Context, source, filter string, enabled bool) error
	ToggleFilter(ctx context.Context, source, filter string) (bool, error)
	ListFilters(ctx context.Context, source string) ([]Filter, error)
}

// Phase is where a source is in its trigger sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseHiding
	PhaseShown
	PhaseHidingAfterTimeout
)

func (p Phase) String() string {
	switch p {
	case PhaseHiding:
		return "hiding"
	case PhaseShown:
		return "shown"
	case PhaseHidingAfterTimeout:
		return "hidingAfterTimeout"
	default:
		return "idle"
	}
}

// sequence is the per-source state. mu serializes sequences for one source.
type sequence struct {
	mu    sync.Mutex
	phase Phase
	timer clock.Timer
	gen   uint64
}

// Sequencer replays overlay sources: hide, settle, show and optionally hide
// again after a timeout. A new trigger for a source supersedes its pending
// timers. It also runs the visibility trigger tables.
type Sequencer struct {
	surface Surface
	clock   clock.Clock
	scene   string
	*Triggers

	mu    sync.Mutex
	state map[string]*sequence
}

// NewSequencer drives sources in scene. A nil clock uses the system clock.
func NewSequencer(surface Surface, scene string, c clock.Clock) *Sequencer {
	if c == nil {
		c = clock.Real{}
	}
	return &Sequencer{
		surface:  surface,
		clock:    c,
		scene:    scene,
		Triggers: NewTriggers(),
		state:    make(map[string]*sequence),
	}
}

func (s *Sequencer) sequence(source string) *sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.state[source]
	if !ok {
		seq = &sequence{}
		s.state[source] = seq
	}
	return seq
}

// Phase returns the current phase of source.
func (s *Sequencer) Phase(source string) Phase {
	seq := s.sequence(source)
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.phase
}

// Trigger hides source, then shows it after SettleDelay. With a positive
// timeout the source is hidden again timeout after it was shown. The hide is
// confirmed before Trigger returns; an error means nothing was scheduled.
func (s *Sequencer) Trigger(ctx context.Context, source string, timeout time.Duration) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "sequencer"), slog.String("source", source))
	seq := s.sequence(source)
	seq.mu.Lock()
	defer seq.mu.Unlock()

	if seq.timer != nil {
		seq.timer.Stop()
		seq.timer = nil
	}
	seq.gen++
	gen := seq.gen
	seq.phase = PhaseHiding

	if err := s.surface.SetSourceVisible(ctx, s.scene, source, false); err != nil {
		seq.phase = PhaseIdle
		telemetry.IncTriggerFailure(source)
		log.Error("hide before trigger failed", slog.Any("err", err))
		return err
	}
	log.Debug("source hidden, scheduling show", slog.Duration("timeout", timeout))
	seq.timer = s.clock.AfterFunc(SettleDelay, func() { s.show(source, seq, gen, timeout) })
	return nil
}

func (s *Sequencer) show(source string, seq *sequence, gen uint64, timeout time.Duration) {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if seq.gen != gen {
		return
	}
	seq.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), surfaceCallTimeout)
	defer cancel()
	if err := s.surface.SetSourceVisible(ctx, s.scene, source, true); err != nil {
		seq.phase = PhaseIdle
		telemetry.IncTriggerFailure(source)
		slog.Error("show failed", slog.String("source", source), slog.Any("err", err), slog.String("component", "sequencer"))
		return
	}
	seq.phase = PhaseShown
	if timeout > 0 {
		seq.phase = PhaseHidingAfterTimeout
		seq.timer = s.clock.AfterFunc(timeout, func() { s.autoHide(source, seq, gen) })
	}
}

func (s *Sequencer) autoHide(source string, seq *sequence, gen uint64) {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if seq.gen != gen {
		return
	}
	seq.timer = nil
	seq.phase = PhaseIdle
	ctx, cancel := context.WithTimeout(context.Background(), surfaceCallTimeout)
	defer cancel()
	if err := s.surface.SetSourceVisible(ctx, s.scene, source, false); err != nil {
		telemetry.IncTriggerFailure(source)
		slog.Error("auto-hide failed", slog.String("source", source), slog.Any("err", err), slog.String("component", "sequencer"))
	}
}

// HandleVisibility runs the trigger table entries for ev.
func (s *Sequencer) HandleVisibility(ctx context.Context, ev VisibilityEvent) {
	switch ev.Kind {
	case SourceVisibility:
		s.Triggers.HandleSource(ctx, ev.Source, ev.Visible)
	case FilterVisibility:
		s.Triggers.HandleFilter(ctx, ev.Source, ev.Filter, ev.Visible)
	}
}

// SyncFilters runs every filter trigger with the filter's current state, so
// dependent sources match after a (re)connect.
func (s *Sequencer) SyncFilters(ctx context.Context) {
	for _, source := range s.Triggers.FilterSources() {
		filters, err := s.surface.ListFilters(ctx, source)
		if err != nil {
			slog.Warn("list filters failed", slog.String("source", source), slog.Any("err", err), slog.String("component", "sequencer"))
			continue
		}
		for _, f := range filters {
			s.Triggers.HandleFilter(ctx, source, f.Name, f.Enabled)
		}
	}
}
