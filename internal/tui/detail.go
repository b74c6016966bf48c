package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/export"
	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/types"
)

// DetailModel shows information about the selected row.
type DetailModel struct {
	Width  int
	Height int
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle()
)

func (m DetailModel) wrap(s string) string {
	w := m.Width - 2
	if w < 10 {
		return s
	}
	var b strings.Builder
	r := []rune(s)
	for len(r) > w {
		b.WriteString(string(r[:w]) + "\n")
		r = r[w:]
	}
	b.WriteString(string(r))
	return b.String()
}

func (m DetailModel) ViewItem(it types.Item, cur types.Currency, now time.Time) string {
	var b strings.Builder

	field := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + "\n")
		b.WriteString(valueStyle.Render(m.wrap(value)) + "\n\n")
	}

	field("Name", it.Name)
	field("Price", price.Format(it.Price, cur))
	field("Folder", it.Folder)
	if it.URL != "" {
		field("URL", it.URL)
		field("Retailer", cart.Retailer(it.URL))
	}
	field("Added", fmt.Sprintf("%s (%s)", it.AddedAt.Local().Format("2006-01-02 15:04"), ago(now.Sub(it.AddedAt))))
	field("Source", string(it.Source))
	if it.Notes != "" {
		field("Notes", it.Notes)
	}
	return b.String()
}

func (m DetailModel) ViewGroup(g cart.Group, cur types.Currency) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(g.Key) + "\n\n")
	b.WriteString(fmt.Sprintf("%s · %s\n\n", price.CountLabel(len(g.Items)), price.Format(price.Total(g.Items), cur)))

	// Highlight the most expensive item.
	var top types.Item
	for _, it := range g.Items {
		if it.Price > top.Price {
			top = it
		}
	}
	if top.Name != "" {
		b.WriteString(labelStyle.Render("Most expensive") + "\n")
		b.WriteString(m.wrap(top.Name+" "+price.Format(top.Price, cur)) + "\n")
	}
	return b.String()
}

// ViewPreview renders the Markdown export of the cart as it would be written
// now, cut to the pane height.
func (m DetailModel) ViewPreview(c *cart.Model, now time.Time) string {
	snap, err := c.Export(now)
	if err != nil {
		return labelStyle.Render("Export preview") + "\n\nYour cart is empty."
	}
	raw := export.Markdown(snap)

	out := raw
	if m.Width > 12 {
		r, err := glamour.NewTermRenderer(
			glamour.WithStylePath("dark"),
			glamour.WithWordWrap(m.Width-2),
		)
		if err == nil {
			if rendered, err := r.Render(raw); err == nil {
				out = rendered
			}
		}
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if m.Height > 0 && len(lines) > m.Height {
		lines = append(lines[:m.Height-1], "…")
	}
	return strings.Join(lines, "\n")
}

func ago(d time.Duration) string {
	days := int(d.Hours() / 24)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case days == 0:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case days == 1:
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
