package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hostsmaster/internal/scheduler"
)

func renderSchedules(rules []scheduler.Rule, names map[string]string, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4
	title := theme.Title.Render("SCHEDULES")

	if len(rules) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  No pending rules"))
		return theme.Border.Width(innerWidth).Render(content)
	}

	type pending struct {
		rule scheduler.Rule
		next time.Time
	}
	list := make([]pending, 0, len(rules))
	for _, r := range rules {
		next, ok := r.Next(now)
		if !ok {
			continue
		}
		list = append(list, pending{r, next})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].next.Before(list[j].next) })

	lines := make([]string, 0, len(list))
	for _, p := range list {
		lines = append(lines, formatRule(p.rule, p.next, names, theme, now))
	}
	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatRule(r scheduler.Rule, next time.Time, names map[string]string, theme Theme, now time.Time) string {
	name := names[r.ItemID]
	if name == "" {
		name = r.ItemID
	}

	action := "deactivate"
	if r.Mode == scheduler.ModeTimed && r.Action == scheduler.ActionActivate {
		action = "activate"
	}
	style := theme.Inactive
	if action == "activate" {
		style = theme.Active
	}

	when := "in " + formatDuration(next.Sub(now))
	if !next.After(now) {
		when = theme.StatusWarn.Render("due")
	}
	repeat := ""
	if r.Mode == scheduler.ModeTimed && r.Repeat != scheduler.RepeatOnce {
		repeat = theme.Dim.Render(" (" + string(r.Repeat) + ")")
	}
	return fmt.Sprintf("%s %-28s %s%s", style.Render(fmt.Sprintf("%-10s", action)), name, when, repeat)
}
