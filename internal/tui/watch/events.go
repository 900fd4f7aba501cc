package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/unison-os/actuation/internal/telemetry"
)

func renderEventStream(eventLog []telemetry.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("TELEMETRY"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, ev := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(ev, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("TELEMETRY"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(ev telemetry.Event, theme Theme) string {
	ts := theme.Dim.Render(ev.At.Format("15:04:05"))

	var style lipgloss.Style
	switch ev.Lifecycle {
	case telemetry.LifecycleCompleted:
		style = theme.StatusOK
	case telemetry.LifecycleFailed:
		style = theme.StatusFailed
	case telemetry.LifecycleStarted, telemetry.LifecycleInProgress:
		style = theme.StatusRunning
	case telemetry.LifecycleAwaitingConfirmation:
		style = theme.Highlight
	default:
		style = theme.Dim
	}

	lifecycle := style.Render(fmt.Sprintf("%-22s", ev.Lifecycle))

	id := ev.ActionID
	if len(id) > 12 {
		id = id[:12]
	}

	desc := fmt.Sprintf("[%s] %s", id, ev.Intent)
	if ev.Detail != "" {
		desc += " " + ev.Detail
	}

	return fmt.Sprintf("%s %s %s", ts, lifecycle, desc)
}
