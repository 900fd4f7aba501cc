package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/unison-os/actuation/internal/telemetry"
)

// ActionState is the watch TUI's view of one action, folded from its
// lifecycle events.
type ActionState struct {
	ActionID    string
	Intent      string
	DeviceID    string
	DeviceClass string
	Lifecycle   string
	Status      string
	StartedAt   time.Time
	EndedAt     time.Time
}

func newActionTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Intent", Width: 24},
			{Title: "Device", Width: 18},
			{Title: "ID", Width: 12},
			{Title: "Status", Width: 22},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return t
}

// updateActionState folds one lifecycle event into the action map and keeps
// the ordered slice newest-first.
func updateActionState(actions map[string]*ActionState, order *[]*ActionState, ev telemetry.Event) {
	if ev.ActionID == "" {
		return
	}
	st, ok := actions[ev.ActionID]
	if !ok {
		st = &ActionState{ActionID: ev.ActionID, StartedAt: ev.At}
		actions[ev.ActionID] = st
		*order = append([]*ActionState{st}, *order...)
		if len(*order) > 50 {
			drop := (*order)[50:]
			*order = (*order)[:50]
			for _, d := range drop {
				delete(actions, d.ActionID)
			}
		}
	}

	if ev.Intent != "" {
		st.Intent = ev.Intent
	}
	if ev.DeviceID != "" {
		st.DeviceID = ev.DeviceID
	}
	if ev.DeviceClass != "" {
		st.DeviceClass = ev.DeviceClass
	}
	st.Lifecycle = ev.Lifecycle
	st.Status = ev.Status

	switch ev.Lifecycle {
	case telemetry.LifecycleCompleted, telemetry.LifecycleFailed:
		st.EndedAt = ev.At
	}
}

func actionRows(order []*ActionState, theme Theme) []table.Row {
	rows := make([]table.Row, 0, len(order))
	for _, st := range order {
		rows = append(rows, actionToRow(st, theme))
	}
	return rows
}

func actionToRow(st *ActionState, theme Theme) table.Row {
	sym := theme.StatusPending.Render("○")
	switch st.Lifecycle {
	case telemetry.LifecycleStarted, telemetry.LifecycleInProgress:
		sym = theme.StatusRunning.Render("◉")
	case telemetry.LifecycleAwaitingConfirmation:
		sym = theme.Highlight.Render("◍")
	case telemetry.LifecycleCompleted:
		sym = theme.StatusOK.Render("●")
	case telemetry.LifecycleFailed:
		sym = theme.StatusFailed.Render("∅")
	}

	device := st.DeviceID
	if st.DeviceClass != "" {
		device = st.DeviceID + "/" + st.DeviceClass
	}

	id := st.ActionID
	if len(id) > 12 {
		id = id[:12]
	}

	duration := "-"
	if !st.StartedAt.IsZero() {
		end := st.EndedAt
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(st.StartedAt).Round(time.Millisecond).String()
	}

	return table.Row{sym, st.Intent, device, id, st.Status, duration}
}
