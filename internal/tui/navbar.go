package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/types"
)

func renderTopBar(count int, total float64, cur types.Currency, group types.GroupMode, bridged, connected bool, width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	totalStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	statsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	liveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	left := " " + titleStyle.Render("Universal Cart") + "   " +
		statsStyle.Render(price.CountLabel(count)+" · ") +
		totalStyle.Render(price.Format(total, cur)) +
		statsStyle.Render(fmt.Sprintf(" · by %s", group))

	var live string
	switch {
	case !bridged:
		live = "offline"
	case connected:
		live = "Extension ● connected"
	default:
		live = "Extension ○ waiting..."
	}
	right := liveStyle.Render(live)

	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right + " "
}
