// Package sheets loads chat commands from a Google Sheet and runs the
// scheduled ones on cron specs.
//
// The sheet has two tabs. "Commands" rows are (name, reply) and answer
// "!name" in chat. "Scheduled" rows are (name, message, schedule) and post
// message whenever the schedule fires. Schedules use the standard five-field
// cron syntax or descriptors such as "@every 30m".
package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Default ranges read from the spreadsheet.
const (
	DefaultCommandsRange  = "Commands!A2:B"
	DefaultScheduledRange = "Scheduled!A2:C"
)

// Command is one sheet row. Schedule is empty for plain chat commands.
type Command struct {
	Name     string
	Value    string
	Schedule string
}

// Commands is everything loaded from one read of the sheet.
type Commands struct {
	Chat      []Command
	Scheduled []Command
}

// Source returns the current commands.
type Source interface {
	Commands(ctx context.Context) (Commands, error)
}

// SheetSource reads commands through the Sheets API.
type SheetSource struct {
	SpreadsheetID  string
	CommandsRange  string
	ScheduledRange string

	svc *gsheets.Service
}

// NewSheetSource builds a source for spreadsheetID. Pass option.WithAPIKey
// for a public sheet or option.WithCredentialsFile for a service account.
func NewSheetSource(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetSource, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetSource{
		SpreadsheetID:  spreadsheetID,
		CommandsRange:  DefaultCommandsRange,
		ScheduledRange: DefaultScheduledRange,
		svc:            svc,
	}, nil
}

// Commands reads both ranges in one request.
func (s *SheetSource) Commands(ctx context.Context) (Commands, error) {
	resp, err := s.svc.Spreadsheets.Values.BatchGet(s.SpreadsheetID).
		Ranges(s.CommandsRange, s.ScheduledRange).
		Context(ctx).
		Do()
	if err != nil {
		return Commands{}, fmt.Errorf("read sheet %s: %w", s.SpreadsheetID, err)
	}
	var out Commands
	for _, vr := range resp.ValueRanges {
		switch {
		case sameTab(vr.Range, s.CommandsRange):
			out.Chat = parseRows(vr.Values, false)
		case sameTab(vr.Range, s.ScheduledRange):
			out.Scheduled = parseRows(vr.Values, true)
		}
	}
	return out, nil
}

// sameTab compares the sheet names of two A1 ranges. The API may quote the
// name or widen the returned range.
func sameTab(a, b string) bool {
	tab := func(r string) string {
		name, _, _ := strings.Cut(r, "!")
		return strings.ToLower(strings.Trim(name, "'"))
	}
	return tab(a) == tab(b)
}

// parseRows skips rows without a name or value, and scheduled rows without a schedule.
func parseRows(rows [][]interface{}, scheduled bool) []Command {
	var out []Command
	for _, row := range rows {
		cell := func(i int) string {
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(fmt.Sprint(row[i]))
		}
		c := Command{
			Name:  strings.ToLower(strings.TrimPrefix(cell(0), "!")),
			Value: cell(1),
		}
		if scheduled {
			c.Schedule = cell(2)
			if c.Schedule == "" {
				continue
			}
		}
		if c.Name == "" || c.Value == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
