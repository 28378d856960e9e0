// Package watch is the live terminal view of a running hostsmaster daemon.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusWarn   lipgloss.Style
	StatusFailed lipgloss.Style

	Active   lipgloss.Style
	Inactive lipgloss.Style
	Remote   lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusWarn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Active:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379")),
		Inactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#5C6370")),
		Remote:   lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
