package sheets

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sink receives chat commands keyed by name.
type Sink interface {
	SetSheetCommands(cmds map[string]string)
}

// Sayer posts scheduled messages.
type Sayer interface {
	Say(text string) error
}

type scheduled struct {
	id  cron.EntryID
	cmd Command
}

// Poller re-reads the sheet on an interval, pushes chat commands to the sink
// and keeps one cron entry per scheduled command.
type Poller struct {
	Source   Source
	Sink     Sink
	Chat     Sayer
	Interval time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]scheduled
}

// NewPoller returns a poller whose schedules run in loc (UTC when nil).
func NewPoller(src Source, sink Sink, chat Sayer, interval time.Duration, loc *time.Location) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Poller{
		Source:   src,
		Sink:     sink,
		Chat:     chat,
		Interval: interval,
		cron:     cron.New(cron.WithLocation(loc)),
		entries:  make(map[string]scheduled),
	}
}

// Run refreshes immediately and then every Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.cron.Start()
	defer func() { <-p.cron.Stop().Done() }()

	if err := p.Refresh(ctx); err != nil {
		slog.Warn("sheet commands unavailable", slog.String("component", "sheets"), slog.Any("err", err))
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				slog.Warn("sheet refresh failed", slog.String("component", "sheets"), slog.Any("err", err))
			}
		}
	}
}

// Refresh reads the sheet once. On error the previous commands stay in place.
func (p *Poller) Refresh(ctx context.Context) error {
	cmds, err := p.Source.Commands(ctx)
	if err != nil {
		return err
	}
	chat := make(map[string]string, len(cmds.Chat))
	for _, c := range cmds.Chat {
		chat[c.Name] = c.Value
	}
	p.Sink.SetSheetCommands(chat)
	p.reschedule(cmds.Scheduled)
	slog.Debug("sheet commands loaded", slog.String("component", "sheets"), slog.Int("chat", len(cmds.Chat)), slog.Int("scheduled", len(cmds.Scheduled)))
	return nil
}

// reschedule adds, replaces and removes cron entries so they match want.
func (p *Poller) reschedule(want []Command) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(want))
	for _, c := range want {
		seen[c.Name] = true
		if cur, ok := p.entries[c.Name]; ok {
			if cur.cmd == c {
				continue
			}
			p.cron.Remove(cur.id)
			delete(p.entries, c.Name)
		}
		msg := c.Value
		id, err := p.cron.AddFunc(c.Schedule, func() {
			if p.Chat == nil {
				return
			}
			if err := p.Chat.Say(msg); err != nil {
				slog.Warn("scheduled command failed", slog.String("component", "sheets"), slog.Any("err", err))
			}
		})
		if err != nil {
			slog.Warn("invalid schedule", slog.String("component", "sheets"), slog.String("command", c.Name), slog.String("schedule", c.Schedule), slog.Any("err", err))
			continue
		}
		p.entries[c.Name] = scheduled{id: id, cmd: c}
		slog.Info("scheduled command", slog.String("component", "sheets"), slog.String("command", c.Name), slog.String("schedule", c.Schedule))
	}
	for name, cur := range p.entries {
		if !seen[name] {
			p.cron.Remove(cur.id)
			delete(p.entries, name)
		}
	}
}

// Scheduled returns the names of commands with a live cron entry.
func (p *Poller) Scheduled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.entries))
	for name := range p.entries {
		out = append(out, name)
	}
	return out
}
