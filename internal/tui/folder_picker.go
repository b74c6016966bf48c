package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/unicart/internal/types"
)

// FolderPicker chooses the destination folder for a move.
type FolderPicker struct {
	Folders []types.Folder
	Counts  map[string]int
	Cursor  int
	Width   int
	Height  int
}

// NewFolderPicker starts with the cursor on current.
func NewFolderPicker(folders []types.Folder, counts map[string]int, current string) FolderPicker {
	p := FolderPicker{Folders: folders, Counts: counts}
	for i, f := range folders {
		if f.Name == current {
			p.Cursor = i
		}
	}
	return p
}

func (m *FolderPicker) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
}

func (m *FolderPicker) MoveDown() {
	if m.Cursor < len(m.Folders)-1 {
		m.Cursor++
	}
}

func (m FolderPicker) Selected() *types.Folder {
	if m.Cursor >= 0 && m.Cursor < len(m.Folders) {
		return &m.Folders[m.Cursor]
	}
	return nil
}

func (m FolderPicker) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	selectedStyle := lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	normalStyle := lipgloss.NewStyle().Padding(0, 1)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Move to folder:") + "\n\n")

	for i, f := range m.Folders {
		swatch := lipgloss.NewStyle().Foreground(colorFor(f.Color)).Render("●")
		label := fmt.Sprintf("%s (%d)", f.Name, m.Counts[f.Name])
		if i == m.Cursor {
			label = swatch + selectedStyle.Render(label)
		} else {
			label = swatch + normalStyle.Render(label)
		}
		b.WriteString(label + "\n")
	}

	b.WriteString("\n" + normalStyle.Render("↑↓ navigate · enter confirm · esc cancel"))

	return boxStyle.Render(b.String())
}
