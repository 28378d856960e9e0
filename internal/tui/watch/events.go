package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hostsmaster/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width, limit int) string {
	innerWidth := width - 4
	title := theme.Title.Render("EVENT STREAM")

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Waiting for events..."))
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= limit {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, "failed"):
		typeStyle = theme.StatusFailed
	case e.Type == events.HostsWritten, e.Type == events.RemoteSynced:
		typeStyle = theme.StatusOK
	case strings.HasPrefix(e.Type, "schedule."):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-20s", e.Type)), describeEvent(e))
}

// describeEvent picks the interesting fields out of an event payload.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	for _, key := range []string{"reason", "workspace_id", "scheme_id", "item_id", "action", "error"} {
		if v, ok := data[key].(string); ok && v != "" {
			if strings.HasSuffix(key, "_id") && len(v) > 8 {
				v = v[:8]
			}
			parts = append(parts, v)
		}
	}
	if n, ok := data["bytes"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d bytes", int64(n)))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
