package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/types"
)

// Markdown formats a snapshot as a markdown document grouped by folder.
func Markdown(snap types.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Shopping Cart\n")
	fmt.Fprintf(&b, "> Exported %s · %s · total %s\n",
		snap.ExportedAt.Format("2006-01-02 15:04"),
		price.CountLabel(snap.TotalItems),
		price.Format(snap.TotalPrice, snap.Currency))

	for _, g := range cart.GroupBy(types.GroupByFolder, snap.Items) {
		fmt.Fprintf(&b, "\n## %s (%s, %s)\n\n", g.Key, price.CountLabel(len(g.Items)),
			price.Format(price.Total(g.Items), snap.Currency))

		for _, it := range g.Items {
			name := it.Name
			if it.URL != "" {
				name = fmt.Sprintf("[%s](%s)", it.Name, it.URL)
			}
			fmt.Fprintf(&b, "- %s: %s, added %s\n", name, price.Format(it.Price, snap.Currency),
				relativeTime(it.AddedAt, snap.ExportedAt))
			if it.Notes != "" {
				fmt.Fprintf(&b, "  > %s\n", it.Notes)
			}
		}
	}

	return b.String()
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
