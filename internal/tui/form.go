package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type formKind int

const (
	formAddItem formKind = iota
	formEditItem
	formNewFolder
	formRenameFolder
)

type formField struct {
	prompt      string
	placeholder string
	value       string
}

// Form is a small stack of text inputs. Enter on the last field submits.
type Form struct {
	kind   formKind
	title  string
	target string // item id or folder name the form edits
	inputs []textinput.Model
	focus  int
	err    string
	Width  int
}

func newForm(kind formKind, title, target string, fields ...formField) Form {
	f := Form{kind: kind, title: title, target: target}
	for i, fld := range fields {
		in := textinput.New()
		in.Prompt = fld.prompt
		in.Placeholder = fld.placeholder
		in.Width = 40
		in.SetValue(fld.value)
		if i == 0 {
			in.Focus()
		}
		f.inputs = append(f.inputs, in)
	}
	return f
}

func itemForm(kind formKind, title, target, name, price, url, notes, folder string) Form {
	return newForm(kind, title, target,
		formField{prompt: "Name:   ", placeholder: "Product name", value: name},
		formField{prompt: "Price:  ", placeholder: "0.00", value: price},
		formField{prompt: "URL:    ", placeholder: "https://", value: url},
		formField{prompt: "Notes:  ", value: notes},
		formField{prompt: "Folder: ", placeholder: "Uncategorized", value: folder},
	)
}

func folderForm(kind formKind, title, target, name, color string) Form {
	return newForm(kind, title, target,
		formField{prompt: "Name:  ", placeholder: "Folder name", value: name},
		formField{prompt: "Color: ", placeholder: "grey, blue, red, yellow, green, pink, purple, cyan, orange", value: color},
	)
}

// Value returns the trimmed content of field i.
func (f Form) Value(i int) string {
	if i < 0 || i >= len(f.inputs) {
		return ""
	}
	return strings.TrimSpace(f.inputs[i].Value())
}

func (f *Form) setFocus(i int) tea.Cmd {
	if len(f.inputs) == 0 {
		return nil
	}
	f.inputs[f.focus].Blur()
	f.focus = (i + len(f.inputs)) % len(f.inputs)
	return f.inputs[f.focus].Focus()
}

// Update handles a key. It reports whether the form was submitted or
// cancelled.
func (f *Form) Update(msg tea.KeyMsg) (submitted, cancelled bool, cmd tea.Cmd) {
	switch msg.String() {
	case "esc":
		return false, true, nil
	case "tab", "down":
		return false, false, f.setFocus(f.focus + 1)
	case "shift+tab", "up":
		return false, false, f.setFocus(f.focus - 1)
	case "enter":
		if f.focus == len(f.inputs)-1 {
			return true, false, nil
		}
		return false, false, f.setFocus(f.focus + 1)
	}
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return false, false, cmd
}

func (f Form) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Padding(0, 1)
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2)

	var b strings.Builder
	b.WriteString(titleStyle.Render(f.title) + "\n\n")
	for _, in := range f.inputs {
		b.WriteString(" " + in.View() + "\n")
	}
	if f.err != "" {
		b.WriteString("\n" + errStyle.Render(f.err) + "\n")
	}
	b.WriteString("\n" + hintStyle.Render("tab next field · enter save · esc cancel"))
	return boxStyle.Render(b.String())
}
