package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/export"
	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/probe"
	"github.com/lotas/unicart/internal/storage"
	"github.com/lotas/unicart/internal/types"
)

// command binds keys to one operation on the presenter. Rendering never
// mutates the cart; every mutation goes through a registered command.
type command struct {
	keys  []string
	help  string
	short bool // shown in the bottom bar
	run   func(m *Model) tea.Cmd
}

type keyMap map[string]command

func newKeyMap(cmds []command) keyMap {
	km := make(keyMap)
	for _, c := range cmds {
		for _, k := range c.keys {
			km[k] = c
		}
	}
	return km
}

func listCommands() []command {
	return []command{
		{keys: []string{"q", "ctrl+c"}, help: "quit", short: true, run: func(m *Model) tea.Cmd { return tea.Quit }},
		{keys: []string{"up", "k"}, help: "up", run: func(m *Model) tea.Cmd { m.list.MoveUp(); return nil }},
		{keys: []string{"down", "j"}, help: "down", run: func(m *Model) tea.Cmd { m.list.MoveDown(); return nil }},
		{keys: []string{"enter"}, help: "collapse/expand", run: func(m *Model) tea.Cmd { m.list.Toggle(); return nil }},
		{keys: []string{"h"}, help: "collapse", run: func(m *Model) tea.Cmd { m.list.CollapseOrParent(); return nil }},
		{keys: []string{"l"}, help: "expand", run: func(m *Model) tea.Cmd { m.list.ExpandOrEnter(); return nil }},
		{keys: []string{"a"}, help: "add item", short: true, run: (*Model).openAddForm},
		{keys: []string{"e"}, help: "edit item", short: true, run: (*Model).openEditForm},
		{keys: []string{"x", "delete"}, help: "remove item", short: true, run: (*Model).removeSelected},
		{keys: []string{"m"}, help: "move to folder", short: true, run: (*Model).openMovePicker},
		{keys: []string{"p"}, help: "add open page", short: true, run: (*Model).quickAdd},
		{keys: []string{"r"}, help: "refresh prices", short: true, run: (*Model).refreshPrices},
		{keys: []string{"g"}, help: "group by folder/retailer", short: true, run: (*Model).toggleGrouping},
		{keys: []string{"n"}, help: "new folder", run: (*Model).openNewFolderForm},
		{keys: []string{"R"}, help: "rename folder", run: (*Model).openRenameFolderForm},
		{keys: []string{"D"}, help: "delete folder", run: (*Model).deleteFolder},
		{keys: []string{"c"}, help: "cycle currency", run: (*Model).cycleCurrency},
		{keys: []string{"C"}, help: "clear cart", run: (*Model).clearCart},
		{keys: []string{"E"}, help: "export", short: true, run: (*Model).exportCart},
		{keys: []string{"v"}, help: "preview export", run: func(m *Model) tea.Cmd { m.preview = !m.preview; return nil }},
		{keys: []string{"?"}, help: "help", short: true, run: func(m *Model) tea.Cmd { m.showHelp = !m.showHelp; return nil }},
	}
}

func (m *Model) openAddForm() tea.Cmd {
	folder := m.list.SelectedFolder()
	if folder == types.Uncategorized {
		folder = ""
	}
	m.form = itemForm(formAddItem, "Add item", "", "", "", "", "", folder)
	m.mode = modeForm
	return nil
}

func (m *Model) openEditForm() tea.Cmd {
	it, ok := m.list.SelectedItem()
	if !ok {
		return nil
	}
	m.form = itemForm(formEditItem, "Edit item", it.ID, it.Name,
		strconv.FormatFloat(it.Price, 'f', -1, 64), it.URL, it.Notes, it.Folder)
	m.mode = modeForm
	return nil
}

func (m *Model) openNewFolderForm() tea.Cmd {
	m.form = folderForm(formNewFolder, "New folder", "", "", "")
	m.mode = modeForm
	return nil
}

func (m *Model) openRenameFolderForm() tea.Cmd {
	name := m.list.SelectedFolder()
	if name == "" {
		return nil
	}
	if name == types.Uncategorized {
		m.notifyErr(cart.ErrReservedFolder)
		return nil
	}
	color := ""
	for _, f := range m.cart.Folders() {
		if f.Name == name {
			color = f.Color
		}
	}
	m.form = folderForm(formRenameFolder, "Rename folder "+name, name, name, color)
	m.mode = modeForm
	return nil
}

func (m *Model) openMovePicker() tea.Cmd {
	it, ok := m.list.SelectedItem()
	if !ok {
		return nil
	}
	m.picker = NewFolderPicker(m.cart.Folders(), m.cart.FolderCounts(), it.Folder)
	m.picker.Width = m.width
	m.picker.Height = m.height
	m.mode = modePicker
	return nil
}

func (m *Model) removeSelected() tea.Cmd {
	it, ok := m.list.SelectedItem()
	if !ok {
		return nil
	}
	m.cart.RemoveItem(context.Background(), it.ID)
	m.notify("Removed " + it.Name)
	return nil
}

func (m *Model) deleteFolder() tea.Cmd {
	name := m.list.SelectedFolder()
	if name == "" {
		return nil
	}
	if name == types.Uncategorized {
		m.notifyErr(cart.ErrReservedFolder)
		return nil
	}
	n := m.cart.FolderCounts()[name]
	question := fmt.Sprintf("Delete folder %q? Its %s move to %s.", name, price.CountLabel(n), types.Uncategorized)
	m.ask(question, func(m *Model, yes bool) {
		if !yes {
			return
		}
		if err := m.cart.DeleteFolder(context.Background(), name); err != nil {
			m.notifyErr(err)
			return
		}
		m.notify("Deleted folder " + name)
	})
	return nil
}

func (m *Model) cycleCurrency() tea.Cmd {
	cur := m.cart.Currency()
	next := types.Currencies[0]
	for i, c := range types.Currencies {
		if c == cur {
			next = types.Currencies[(i+1)%len(types.Currencies)]
		}
	}
	if err := m.cart.SetCurrency(context.Background(), next); err != nil {
		m.notifyErr(err)
		return nil
	}
	m.notify("Currency: " + string(next))
	return nil
}

func clearMessage(res cart.ClearResult) string {
	switch res {
	case cart.ClearAlreadyEmpty:
		return "Cart is already empty"
	case cart.ClearCancelled:
		return "Clear cancelled"
	}
	return "Cart cleared"
}

func (m *Model) clearCart() tea.Cmd {
	n := len(m.cart.Items())
	if n == 0 {
		m.notify(clearMessage(m.cart.Clear(context.Background(), nil)))
		return nil
	}
	m.ask(fmt.Sprintf("Remove all %s from the cart?", price.CountLabel(n)), func(m *Model, yes bool) {
		res := m.cart.Clear(context.Background(), func() bool { return yes })
		m.notify(clearMessage(res))
	})
	return nil
}

func (m *Model) toggleGrouping() tea.Cmd {
	if m.list.Mode == types.GroupByFolder {
		m.list.Mode = types.GroupByRetailer
	} else {
		m.list.Mode = types.GroupByFolder
	}
	m.list.Cursor, m.list.Offset = 0, 0
	m.rebuild()
	return nil
}

func (m *Model) exportCart() tea.Cmd {
	snap, err := m.cart.Export(time.Now())
	if err != nil {
		m.notifyErr(fmt.Errorf("nothing to export: %w", err))
		return nil
	}
	path, err := export.Write(m.opts.ExportDir, snap, export.FormatJSON)
	if err != nil {
		m.notifyErr(err)
		return nil
	}
	if m.opts.DB != nil {
		if _, err := storage.RecordExport(m.opts.DB, storage.ExportRecord{
			Path:       path,
			TotalItems: snap.TotalItems,
			TotalPrice: snap.TotalPrice,
			Currency:   string(snap.Currency),
			ExportedAt: snap.ExportedAt,
		}); err != nil {
			m.notifyErr(err)
			return nil
		}
	}
	m.notify("Exported to " + path)
	return nil
}

func (m *Model) quickAdd() tea.Cmd {
	if m.browser == nil || !m.connected {
		m.notifyErr(errors.New("adding the open page needs the browser extension"))
		return nil
	}
	b := m.browser
	m.busy = "Reading the open page..."
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), probe.DefaultStepTimeout)
		defer cancel()
		page, err := b.ExtractActive(ctx)
		return quickAddMsg{page: page, err: err}
	}
}

func (m *Model) refreshPrices() tea.Cmd {
	if m.busy != "" {
		return nil
	}
	items := m.cart.Items()
	withURL := 0
	for _, it := range items {
		if it.URL != "" {
			withURL++
		}
	}
	if withURL == 0 {
		m.notify("No items with a URL to refresh")
		return nil
	}

	p := &probe.Prober{Browser: m.offline, StepTimeout: probe.DefaultStepTimeout}
	if m.browser != nil && m.connected {
		p.Browser = m.browser
		p.SettleDelay = m.opts.Settle
	}
	m.busy = fmt.Sprintf("Refreshing prices for %s...", price.CountLabel(withURL))
	return func() tea.Msg {
		return refreshDoneMsg{updates: p.RefreshAll(context.Background(), items), candidates: withURL}
	}
}
