package watch

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hostsmaster/internal/transfer"
	"github.com/mattjoyce/hostsmaster/internal/tree"
)

// schemeRow is one scheme of the live workspace.
type schemeRow struct {
	ID       string
	Path     string
	Lines    int
	Remote   bool
	LastSync *time.Time
	// Order is the 1-based merge position, 0 when inactive.
	Order int
}

// flattenSchemes lists every scheme under root in traversal order.
func flattenSchemes(root *tree.Item, active []string) []schemeRow {
	if root == nil {
		return nil
	}
	var rows []schemeRow
	names := []string{}
	_ = tree.Walk(root, func(item, _ *tree.Item, depth int) error {
		if depth == 0 {
			return nil
		}
		names = append(names[:depth-1], item.Name)
		if !item.IsScheme() {
			return nil
		}
		rows = append(rows, schemeRow{
			ID:       item.ID,
			Path:     strings.Join(names, transfer.PathSeparator),
			Lines:    countEntries(item.Content),
			Remote:   item.IsRemote,
			LastSync: item.LastSync,
			Order:    slices.Index(active, item.ID) + 1,
		})
		return nil
	})
	return rows
}

// countEntries counts non-blank, non-comment lines.
func countEntries(content string) int {
	n := 0
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}

// toggled returns active with id removed, or appended when absent.
func toggled(active []string, id string) []string {
	if i := slices.Index(active, id); i >= 0 {
		return slices.Delete(slices.Clone(active), i, i+1)
	}
	return append(slices.Clone(active), id)
}

func schemeColumns(width int) []table.Column {
	pathWidth := max(20, width-40)
	return []table.Column{
		{Title: "#", Width: 3},
		{Title: "Scheme", Width: pathWidth},
		{Title: "Entries", Width: 7},
		{Title: "Source", Width: 14},
	}
}

func schemeTableRows(rows []schemeRow, now time.Time) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		order := "·"
		if r.Order > 0 {
			order = strconv.Itoa(r.Order)
		}
		source := "local"
		if r.Remote {
			source = "remote"
			if r.LastSync != nil {
				source += " " + formatDuration(now.Sub(*r.LastSync))
			}
		}
		out = append(out, table.Row{order, r.Path, strconv.Itoa(r.Lines), source})
	}
	return out
}

func newSchemeTable() table.Model {
	t := table.New(
		table.WithColumns(schemeColumns(80)),
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
