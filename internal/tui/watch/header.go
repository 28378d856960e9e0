package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks daemon health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Workspace     string
	ActiveSchemes int
	Writes        int64
	WriteFailures int64
	WritePending  bool
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, workspaceName string, ticker Ticker, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	case health.WriteFailures > 0:
		statusText = theme.StatusWarn.Render("WRITE ERRORS")
	}

	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" HOSTSMASTER %s", theme.Highlight.Render(ticker.Current()))
	pad := max(1, innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	ws := workspaceName
	if ws == "" {
		ws = health.Workspace
	}
	pending := ""
	if health.WritePending {
		pending = theme.StatusWarn.Render(" (pending)")
	}
	statsLine := fmt.Sprintf(" %s  ⏱ %s  Workspace: %s  Active: %d  Writes: %d%s  Failures: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		theme.Highlight.Render(ws),
		health.ActiveSchemes,
		health.Writes, pending,
		health.WriteFailures,
	)

	lastWrite := "none yet"
	if last := pulse.Last(); !last.IsZero() {
		lastWrite = formatDuration(now.Sub(last)) + " ago"
	}
	activityLine := fmt.Sprintf(" Last write: %s %s", lastWrite, pulse.Render(theme, now))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
