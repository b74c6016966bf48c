package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/types"
)

// ListNode is a visible row: a group header or an item.
type ListNode struct {
	Group *cart.Group
	Item  *types.Item
}

// ListModel renders the grouped cart as a collapsible list.
type ListModel struct {
	Mode     types.GroupMode
	Groups   []cart.Group
	Expanded map[string]bool // group key -> expanded; missing means expanded
	Currency types.Currency
	Colors   map[string]string // folder name -> color token
	Folders  []string          // every folder, including empty ones
	Cursor   int
	Offset   int
	Width    int
	Height   int
}

// SetItems regroups items and keeps the cursor in range. In folder mode
// empty folders other than Uncategorized get a header too.
func (m *ListModel) SetItems(items []types.Item) {
	m.Groups = cart.GroupBy(m.Mode, items)
	if m.Mode == types.GroupByFolder {
		seen := make(map[string]bool, len(m.Groups))
		for _, g := range m.Groups {
			seen[g.Key] = true
		}
		for _, name := range m.Folders {
			if !seen[name] && name != types.Uncategorized {
				m.Groups = append(m.Groups, cart.Group{Key: name})
			}
		}
	}
	if m.Expanded == nil {
		m.Expanded = make(map[string]bool)
	}
	m.clamp()
}

func (m ListModel) expanded(key string) bool {
	exp, ok := m.Expanded[key]
	return !ok || exp
}

// VisibleNodes returns the flat list of rows.
func (m ListModel) VisibleNodes() []ListNode {
	var nodes []ListNode
	for gi := range m.Groups {
		g := &m.Groups[gi]
		nodes = append(nodes, ListNode{Group: g})
		if m.expanded(g.Key) {
			for ii := range g.Items {
				nodes = append(nodes, ListNode{Item: &g.Items[ii]})
			}
		}
	}
	return nodes
}

// SelectedNode returns the row under the cursor, or nil.
func (m ListModel) SelectedNode() *ListNode {
	nodes := m.VisibleNodes()
	if m.Cursor >= 0 && m.Cursor < len(nodes) {
		return &nodes[m.Cursor]
	}
	return nil
}

// SelectedItem returns the item under the cursor.
func (m ListModel) SelectedItem() (types.Item, bool) {
	if n := m.SelectedNode(); n != nil && n.Item != nil {
		return *n.Item, true
	}
	return types.Item{}, false
}

// SelectedFolder is the folder the cursor is in: the header's key in folder
// mode, or the selected item's folder.
func (m ListModel) SelectedFolder() string {
	n := m.SelectedNode()
	switch {
	case n == nil:
		return ""
	case n.Item != nil:
		return n.Item.Folder
	case m.Mode == types.GroupByFolder:
		return n.Group.Key
	}
	return ""
}

func (m *ListModel) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
		if m.Cursor < m.Offset {
			m.Offset = m.Cursor
		}
	}
}

func (m *ListModel) MoveDown() {
	if m.Cursor < len(m.VisibleNodes())-1 {
		m.Cursor++
		if m.Cursor >= m.Offset+m.visibleRows() {
			m.Offset = m.Cursor - m.visibleRows() + 1
		}
	}
}

// Toggle collapses or expands the group under the cursor.
func (m *ListModel) Toggle() {
	n := m.SelectedNode()
	if n == nil || n.Group == nil {
		return
	}
	m.Expanded[n.Group.Key] = !m.expanded(n.Group.Key)
	m.clamp()
}

// CollapseOrParent collapses the current group, or jumps to the header of
// the selected item.
func (m *ListModel) CollapseOrParent() {
	n := m.SelectedNode()
	if n == nil {
		return
	}
	if n.Group != nil {
		m.Expanded[n.Group.Key] = false
		m.clamp()
		return
	}
	nodes := m.VisibleNodes()
	for i := m.Cursor; i >= 0; i-- {
		if nodes[i].Group != nil {
			m.Cursor = i
			if m.Cursor < m.Offset {
				m.Offset = m.Cursor
			}
			return
		}
	}
}

// ExpandOrEnter expands a collapsed group or moves into its first item.
func (m *ListModel) ExpandOrEnter() {
	n := m.SelectedNode()
	if n == nil || n.Group == nil {
		return
	}
	if !m.expanded(n.Group.Key) {
		m.Expanded[n.Group.Key] = true
		return
	}
	m.MoveDown()
}

func (m ListModel) visibleRows() int {
	if m.Height < 1 {
		return 20
	}
	return m.Height
}

func (m *ListModel) clamp() {
	n := len(m.VisibleNodes())
	if m.Cursor >= n {
		m.Cursor = n - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	if m.Offset > m.Cursor {
		m.Offset = m.Cursor
	}
}

// folderColors maps folder color tokens to terminal colors.
var folderColors = map[string]lipgloss.Color{
	"grey":   lipgloss.Color("245"),
	"blue":   lipgloss.Color("33"),
	"red":    lipgloss.Color("196"),
	"yellow": lipgloss.Color("220"),
	"green":  lipgloss.Color("42"),
	"pink":   lipgloss.Color("213"),
	"purple": lipgloss.Color("135"),
	"cyan":   lipgloss.Color("51"),
	"orange": lipgloss.Color("214"),
}

func colorFor(token string) lipgloss.Color {
	if c, ok := folderColors[token]; ok {
		return c
	}
	return folderColors["grey"]
}

// View renders the list.
func (m ListModel) View() string {
	nodes := m.VisibleNodes()
	if len(nodes) == 0 {
		return "Your cart is empty. Press a to add an item, p to add the open page."
	}

	var b strings.Builder
	end := m.Offset + m.visibleRows()
	if end > len(nodes) {
		end = len(nodes)
	}

	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	priceStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	for i := m.Offset; i < end; i++ {
		node := nodes[i]
		var line string

		if node.Group != nil {
			icon := "▶"
			if m.expanded(node.Group.Key) {
				icon = "▼"
			}
			style := lipgloss.NewStyle().Bold(true)
			if m.Mode == types.GroupByFolder {
				style = style.Foreground(colorFor(m.Colors[node.Group.Key]))
			}
			label := fmt.Sprintf("%s %s (%s)", icon, node.Group.Key, price.CountLabel(len(node.Group.Items)))
			line = style.Render(label) + "  " + priceStyle.Render(price.Format(price.Total(node.Group.Items), m.Currency))
		} else if node.Item != nil {
			it := node.Item
			amount := price.Format(it.Price, m.Currency)
			marker := " "
			if it.Source != types.SourceManual {
				marker = "•"
			}
			maxName := m.Width - len(amount) - 6
			if maxName < 10 {
				maxName = 10
			}
			name := []rune(it.Name)
			if len(name) > maxName {
				name = append(name[:maxName-1], '…')
			}
			line = fmt.Sprintf("  %s %s  %s", dimStyle.Render(marker), string(name), priceStyle.Render(amount))
		}

		if i == m.Cursor {
			if pad := m.Width - lipgloss.Width(line); pad > 0 {
				line += strings.Repeat(" ", pad)
			}
			line = cursorStyle.Render(line)
		}

		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}

	return b.String()
}
