package tui

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/background"
	"github.com/lotas/unicart/internal/bridge"
	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/price"
	"github.com/lotas/unicart/internal/probe"
	"github.com/lotas/unicart/internal/server"
	"github.com/lotas/unicart/internal/types"
)

// --- Messages ---

type syncTickMsg struct{}

type wsRequestMsg struct{ msg server.IncomingMsg }
type wsStoppedMsg struct{ err error }

type refreshDoneMsg struct {
	updates    []types.PriceUpdate
	candidates int
}

type quickAddMsg struct {
	page bridge.ActivePage
	err  error
}

// Options configures the presenter.
type Options struct {
	// Server is the extension bridge. Nil runs without an extension: quick
	// add is unavailable and refresh downloads pages directly.
	Server    *server.Server
	Settle    time.Duration
	ExportDir string
	DB        *sql.DB // export history; optional
	SyncEvery time.Duration
}

type mode int

const (
	modeList mode = iota
	modePicker
	modeForm
	modeConfirm
)

type confirmPrompt struct {
	question string
	answer   func(m *Model, yes bool)
}

// events collects cart notifications between Update calls. The Model is
// copied on every Update, so the subscriber writes through a pointer.
type events struct {
	changed  bool
	replaced bool
}

// --- Model ---

type Model struct {
	cart       *cart.Model
	opts       Options
	dispatcher *background.Dispatcher
	browser    *bridge.Browser
	offline    probe.Browser
	pending    *events

	// UI state
	list      ListModel
	detail    DetailModel
	picker    FolderPicker
	form      Form
	confirm   confirmPrompt
	mode      mode
	keys      keyMap
	showHelp  bool
	preview   bool
	status    string
	statusErr bool
	busy      string
	connected bool
	width     int
	height    int
}

func NewModel(c *cart.Model, opts Options) Model {
	if opts.SyncEvery <= 0 {
		opts.SyncEvery = 2 * time.Second
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	m := Model{
		cart:       c,
		opts:       opts,
		dispatcher: background.New(c),
		offline:    probe.NewHTTPBrowser(),
		pending:    &events{},
		keys:       newKeyMap(listCommands()),
	}
	if opts.Server != nil {
		m.browser = bridge.New(opts.Server)
	}
	pending := m.pending
	c.Subscribe(func(ev cart.Event) {
		pending.changed = true
		if ev.Kind == cart.EventReplaced {
			pending.replaced = true
		}
	})
	m.rebuild()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{syncTick(m.opts.SyncEvery)}
	if m.opts.Server != nil {
		cmds = append(cmds, startWSServer(m.opts.Server), listenWebSocket(m.opts.Server))
	}
	return tea.Batch(cmds...)
}

func syncTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return syncTickMsg{} })
}

func startWSServer(srv *server.Server) tea.Cmd {
	return func() tea.Msg {
		err := srv.ListenAndServe(context.Background())
		return wsStoppedMsg{err: err}
	}
}

func listenWebSocket(srv *server.Server) tea.Cmd {
	return func() tea.Msg {
		return wsRequestMsg{msg: <-srv.Messages()}
	}
}

func sendReply(srv *server.Server, reply server.OutgoingMsg) tea.Cmd {
	return func() tea.Msg {
		if err := srv.Send(reply); err != nil {
			applog.Error("tui.reply", err, "id", reply.ID)
		}
		return nil
	}
}

// --- Status helpers ---

func (m *Model) notify(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) notifyErr(err error) {
	var v *cart.ValidationError
	if errors.As(err, &v) {
		err = v.Err
	}
	m.status = err.Error()
	m.statusErr = true
}

func (m *Model) ask(question string, answer func(m *Model, yes bool)) {
	m.confirm = confirmPrompt{question: question, answer: answer}
	m.mode = modeConfirm
}

// rebuild re-renders the list from the cart.
func (m *Model) rebuild() {
	m.list.Currency = m.cart.Currency()
	folders := m.cart.Folders()
	colors := make(map[string]string, len(folders))
	names := make([]string, 0, len(folders))
	for _, f := range folders {
		colors[f.Name] = f.Color
		names = append(names, f.Name)
	}
	m.list.Colors = colors
	m.list.Folders = names
	m.list.SetItems(m.cart.Items())
}

// applyEvents picks up cart notifications raised while handling a message.
func (m *Model) applyEvents() {
	if !m.pending.changed {
		return
	}
	replaced := m.pending.replaced
	*m.pending = events{}
	m.rebuild()
	if replaced {
		m.notify("Cart changed in another window; reloaded")
	}
	if err := m.cart.PersistErr(); err != nil {
		m.notifyErr(fmt.Errorf("not saved: %w", err))
	}
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.update(msg)
	next.applyEvents()
	return next, cmd
}

func (m Model) update(msg tea.Msg) (Model, tea.Cmd) {
	ctx := context.Background()

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listWidth := m.width * 60 / 100
		paneHeight := m.height - 5 // top bar + bottom bar + borders
		m.list.Width = listWidth
		m.list.Height = paneHeight
		m.detail.Width = m.width - listWidth - 4
		m.detail.Height = paneHeight
		m.picker.Width = m.width
		m.picker.Height = m.height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case syncTickMsg:
		if _, err := m.cart.Sync(ctx); err != nil {
			applog.Error("tui.sync", err)
		}
		if m.opts.Server != nil {
			m.connected = m.opts.Server.Connected()
		}
		return m, syncTick(m.opts.SyncEvery)

	case wsRequestMsg:
		srv := m.opts.Server
		switch msg.msg.Type {
		case server.TypeHello:
			m.connected = true
			m.notify("Extension connected")
			return m, listenWebSocket(srv)
		case server.TypeRequest:
			reply := m.dispatcher.Handle(ctx, msg.msg)
			if msg.msg.Action == background.ActionContextMenuAdd {
				if reply.Success != nil && *reply.Success {
					m.notify("Added from the context menu")
				} else {
					m.notifyErr(errors.New(reply.Error))
				}
			}
			return m, tea.Batch(sendReply(srv, reply), listenWebSocket(srv))
		}
		return m, listenWebSocket(srv)

	case wsStoppedMsg:
		m.connected = false
		if msg.err != nil {
			m.notifyErr(fmt.Errorf("extension bridge stopped: %w", msg.err))
		}
		return m, nil

	case refreshDoneMsg:
		m.busy = ""
		n := m.cart.ApplyPriceUpdates(ctx, msg.updates)
		m.notify(fmt.Sprintf("Updated %d of %d prices", n, msg.candidates))
		return m, nil

	case quickAddMsg:
		m.busy = ""
		if msg.err != nil {
			m.notifyErr(msg.err)
			return m, nil
		}
		it, err := m.cart.AddExtracted(ctx, msg.page.Extraction, msg.page.URL, types.SourcePageExtraction, "")
		if err != nil {
			m.notifyErr(err)
			return m, nil
		}
		m.notify(fmt.Sprintf("Added %s (%s)", it.Name, price.Format(it.Price, m.cart.Currency())))
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch m.mode {
	case modeConfirm:
		switch msg.String() {
		case "y", "Y":
			m.mode = modeList
			m.confirm.answer(&m, true)
		case "n", "N", "esc":
			m.mode = modeList
			m.confirm.answer(&m, false)
			if !m.statusErr && m.status == "" {
				m.notify("Cancelled")
			}
		case "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case modePicker:
		switch msg.String() {
		case "up", "k":
			m.picker.MoveUp()
		case "down", "j":
			m.picker.MoveDown()
		case "enter":
			m.mode = modeList
			f := m.picker.Selected()
			it, ok := m.list.SelectedItem()
			if f == nil || !ok {
				return m, nil
			}
			if err := m.cart.MoveItem(context.Background(), it.ID, f.Name); err != nil {
				m.notifyErr(err)
				return m, nil
			}
			m.notify(fmt.Sprintf("Moved %s to %s", it.Name, f.Name))
		case "esc":
			m.mode = modeList
		case "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case modeForm:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		submitted, cancelled, cmd := m.form.Update(msg)
		switch {
		case cancelled:
			m.mode = modeList
		case submitted:
			if err := m.submitForm(); err != nil {
				var v *cart.ValidationError
				if errors.As(err, &v) {
					err = v.Err
				}
				m.form.err = err.Error()
				return m, nil
			}
			m.mode = modeList
		}
		return m, cmd
	}

	if c, ok := m.keys[msg.String()]; ok {
		m.status = ""
		m.statusErr = false
		return m, c.run(&m)
	}
	return m, nil
}

func validColor(c string) bool {
	if c == "" {
		return true
	}
	for _, v := range types.FolderColors {
		if v == c {
			return true
		}
	}
	return false
}

func (m *Model) submitForm() error {
	ctx := context.Background()
	f := m.form
	switch f.kind {
	case formAddItem, formEditItem:
		fields, err := cart.ParseInput(f.Value(0), f.Value(1), f.Value(2), f.Value(3))
		if err != nil {
			return err
		}
		folder := f.Value(4)
		if folder == "" {
			folder = types.Uncategorized
		}
		if !m.cart.State().HasFolder(folder) {
			return fmt.Errorf("%w: %s", cart.ErrUnknownFolder, folder)
		}
		if f.kind == formAddItem {
			it, err := m.cart.AddItem(ctx, fields, folder)
			if err != nil {
				return err
			}
			m.notify("Added " + it.Name)
			return nil
		}
		if err := m.cart.EditItem(ctx, f.target, fields, folder); err != nil {
			return err
		}
		m.notify("Saved " + fields.Name)
		return nil

	case formNewFolder, formRenameFolder:
		name, color := f.Value(0), f.Value(1)
		if !validColor(color) {
			return fmt.Errorf("unknown color %q", color)
		}
		if f.kind == formNewFolder {
			if err := m.cart.CreateFolder(ctx, name, color); err != nil {
				return err
			}
			m.notify("Created folder " + name)
			return nil
		}
		if err := m.cart.RenameFolder(ctx, f.target, name, color); err != nil {
			return err
		}
		m.notify(fmt.Sprintf("Renamed %s to %s", f.target, name))
	}
	return nil
}

// --- View ---

func (m Model) View() string {
	switch m.mode {
	case modePicker:
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.picker.View())
	case modeForm:
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.form.View())
	}
	if m.showHelp {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.helpView())
	}

	items := m.cart.Items()
	topBar := renderTopBar(len(items), price.Total(items), m.cart.Currency(), m.list.Mode, m.opts.Server != nil, m.connected, m.width)

	listBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.list.Width).
		Height(m.list.Height)
	detailBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.detail.Width).
		Height(m.detail.Height)

	var detailContent string
	if m.preview {
		detailContent = m.detail.ViewPreview(m.cart, time.Now())
	} else if node := m.list.SelectedNode(); node != nil {
		if node.Item != nil {
			detailContent = m.detail.ViewItem(*node.Item, m.cart.Currency(), time.Now())
		} else if node.Group != nil {
			detailContent = m.detail.ViewGroup(*node.Group, m.cart.Currency())
		}
	}
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		listBorder.Render(m.list.View()),
		detailBorder.Render(detailContent))

	return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, m.bottomBar())
}

func (m Model) bottomBar() string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	switch {
	case m.mode == modeConfirm:
		return lipgloss.NewStyle().Bold(true).Padding(0, 1).Render(m.confirm.question + " (y/n)")
	case m.busy != "":
		return style.Render(m.busy)
	case m.status != "":
		if m.statusErr {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Padding(0, 1).Render(m.status)
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Padding(0, 1).Render(m.status)
	}

	var parts []string
	seen := make(map[string]bool)
	for _, c := range listCommands() {
		if !c.short || seen[c.help] {
			continue
		}
		seen[c.help] = true
		parts = append(parts, c.keys[0]+" "+c.help)
	}
	return style.Render("↑↓/jk navigate · " + strings.Join(parts, " · "))
}

func (m Model) helpView() string {
	keyStyle := lipgloss.NewStyle().Bold(true).Width(12)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Keys") + "\n\n")
	for _, c := range listCommands() {
		b.WriteString(keyStyle.Render(strings.Join(c.keys, "/")) + c.help + "\n")
	}
	b.WriteString("\n? close")
	return boxStyle.Render(b.String())
}
