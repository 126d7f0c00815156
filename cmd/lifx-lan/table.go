package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"lifx-lan/internal/lights"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Italic(true)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

var lightColumns = []string{"ID", "LABEL", "POWER", "COLOR", "GROUPS", "SEEN"}

// renderLights lays out ls as an aligned table, sorted by label.
func renderLights(ls []lights.Light) string {
	if len(ls) == 0 {
		return mutedStyle.Render("no lights found")
	}
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Label != ls[j].Label {
			return ls[i].Label < ls[j].Label
		}
		return ls[i].ID.String() < ls[j].ID.String()
	})

	rows := make([][]string, 0, len(ls)+1)
	rows = append(rows, lightColumns)
	for _, l := range ls {
		rows = append(rows, lightRow(l))
	}

	widths := make([]int, len(lightColumns))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	lines := make([]string, 0, len(rows))
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := cellStyle.Width(widths[i] + 2)
			switch {
			case r == 0:
				style = style.Inherit(headerStyle)
			case i == 2 && cell == "on":
				style = style.Inherit(onStyle)
			case i == 2:
				style = style.Inherit(offStyle)
			}
			cells[i] = style.Render(cell)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(lines, "\n")
}

func lightRow(l lights.Light) []string {
	power := "off"
	if l.Power {
		power = "on"
	}
	label := l.Label
	if !l.Loaded && label == "" {
		label = "?"
	}
	seen := "-"
	if !l.LastSeen.IsZero() {
		seen = time.Since(l.LastSeen).Round(time.Second).String() + " ago"
	}
	return []string{
		l.ID.String(),
		label,
		power,
		fmt.Sprintf("%.0f° %.0f%% %.0f%% %dK", l.Color.Hue, l.Color.Saturation*100, l.Color.Brightness*100, l.Color.Kelvin),
		strings.Join(l.Groups, ","),
		seen,
	}
}
