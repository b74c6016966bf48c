// Package cart holds the in-memory cart and every mutation on it. A Model
// has a single owner (the TUI loop, the bridge dispatcher or one CLI
// command) and no locks; each successful mutation is persisted in one write
// and then announced to subscribers.
package cart

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/types"
)

// Store persists the full cart state.
type Store interface {
	Load(ctx context.Context) (*types.CartState, error)
	Save(ctx context.Context, st *types.CartState) error
}

// ChangeDetector is implemented by stores that can tell whether another
// writer touched them since our last read or write.
type ChangeDetector interface {
	Changed(ctx context.Context) (bool, error)
}

// EventKind distinguishes our own mutations from adopted external state.
type EventKind int

const (
	EventChanged EventKind = iota
	EventReplaced
)

// Event is delivered to subscribers after every change.
type Event struct {
	Kind EventKind
	Op   string
}

// Fields are the user-editable parts of an item.
type Fields struct {
	Name   string
	Price  float64
	URL    string
	Notes  string
	Source types.Source
}

// ParseInput validates raw form input. Price must be numeric.
func ParseInput(name, price, url, notes string) (Fields, error) {
	f := Fields{
		Name:  strings.TrimSpace(name),
		URL:   strings.TrimSpace(url),
		Notes: strings.TrimSpace(notes),
	}
	if f.Name == "" {
		return f, invalid("parse", ErrEmptyName)
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil {
		return f, invalid("parse", ErrInvalidPrice)
	}
	f.Price = p
	if err := validate("parse", f); err != nil {
		return f, err
	}
	return f, nil
}

func validate(op string, f Fields) error {
	if strings.TrimSpace(f.Name) == "" {
		return invalid(op, ErrEmptyName)
	}
	if math.IsNaN(f.Price) || math.IsInf(f.Price, 0) || f.Price < 0 {
		return invalid(op, ErrInvalidPrice)
	}
	return nil
}

// Model is the cart owned by one presenter.
type Model struct {
	store Store
	state *types.CartState

	subs   map[int]func(Event)
	nextID int

	persistErr error

	now   func() time.Time
	newID func() string
}

// New wraps an already loaded state.
func New(store Store, st *types.CartState) *Model {
	if st == nil {
		st = types.NewCartState()
	}
	return &Model{
		store: store,
		state: st,
		subs:  make(map[int]func(Event)),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Load reads the state from store. When the read fails the returned model
// starts from the first-run state and the error is returned alongside it,
// so callers can warn and keep going.
func Load(ctx context.Context, store Store) (*Model, error) {
	st, err := store.Load(ctx)
	if err != nil {
		applog.Error("cart.load", err)
		return New(store, nil), err
	}
	return New(store, st), nil
}

// State returns a copy of the current state.
func (m *Model) State() *types.CartState {
	return m.state.Clone()
}

// Items returns a copy of the items in display order.
func (m *Model) Items() []types.Item {
	return append([]types.Item(nil), m.state.Items...)
}

// Folders returns a copy of the folders.
func (m *Model) Folders() []types.Folder {
	return append([]types.Folder(nil), m.state.Folders...)
}

// Currency returns the display currency.
func (m *Model) Currency() types.Currency {
	return m.state.Currency
}

// Item looks an item up by id.
func (m *Model) Item(id string) (types.Item, bool) {
	if i := m.index(id); i >= 0 {
		return m.state.Items[i], true
	}
	return types.Item{}, false
}

// PersistErr returns the error of the most recent failed write, or nil once
// a later write succeeded.
func (m *Model) PersistErr() error {
	return m.persistErr
}

// Subscribe registers fn for change events and returns a function that
// removes it.
func (m *Model) Subscribe(fn func(Event)) func() {
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() { delete(m.subs, id) }
}

func (m *Model) notify(ev Event) {
	for _, fn := range m.subs {
		fn(ev)
	}
}

// commit persists the whole state and notifies subscribers. A failed write
// is logged and remembered; the in-memory state stays authoritative.
func (m *Model) commit(ctx context.Context, op string) {
	if err := m.store.Save(ctx, m.state); err != nil {
		applog.Error("cart.persist", err, "op", op)
		m.persistErr = err
	} else {
		m.persistErr = nil
	}
	m.notify(Event{Kind: EventChanged, Op: op})
}

func (m *Model) index(id string) int {
	for i, it := range m.state.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// AddItem appends a new item. An unknown or empty folder falls back to
// Uncategorized, an unknown or empty source to manual.
func (m *Model) AddItem(ctx context.Context, f Fields, folder string) (types.Item, error) {
	if err := validate("add item", f); err != nil {
		return types.Item{}, err
	}
	if !m.state.HasFolder(folder) {
		folder = types.Uncategorized
	}
	src := f.Source
	if !src.Valid() {
		if src != "" {
			applog.Warn("cart.add.source", "source", src)
		}
		src = types.SourceManual
	}

	item := types.Item{
		ID:      m.newID(),
		Name:    strings.TrimSpace(f.Name),
		Price:   f.Price,
		URL:     f.URL,
		Notes:   f.Notes,
		AddedAt: m.now().UTC(),
		Source:  src,
		Folder:  folder,
	}
	m.state.Items = append(m.state.Items, item)
	applog.Info("cart.add", "id", item.ID, "source", item.Source, "folder", item.Folder)
	m.commit(ctx, "add")
	return item, nil
}

// AddExtracted turns a page extraction into an item. A failed extraction is
// reported as ErrNotExtracted and leaves the cart untouched.
func (m *Model) AddExtracted(ctx context.Context, ext types.Extraction, pageURL string, src types.Source, folder string) (types.Item, error) {
	if !ext.Success {
		return types.Item{}, ErrNotExtracted
	}
	name := strings.TrimSpace(ext.Name)
	if name == "" {
		name = "Unknown Product"
	}
	return m.AddItem(ctx, Fields{
		Name:   name,
		Price:  ext.Price,
		URL:    pageURL,
		Notes:  ext.Notes,
		Source: src,
	}, folder)
}

// RemoveItem drops the item with id. Unknown ids are ignored.
func (m *Model) RemoveItem(ctx context.Context, id string) {
	i := m.index(id)
	if i < 0 {
		return
	}
	m.state.Items = append(m.state.Items[:i:i], m.state.Items[i+1:]...)
	applog.Info("cart.remove", "id", id)
	m.commit(ctx, "remove")
}

// EditItem overwrites name, price, url, notes and folder in place. An empty
// folder means Uncategorized; a folder that does not exist is rejected.
func (m *Model) EditItem(ctx context.Context, id string, f Fields, folder string) error {
	if err := validate("edit item", f); err != nil {
		return err
	}
	i := m.index(id)
	if i < 0 {
		return invalid("edit item", ErrItemNotFound)
	}
	if folder == "" {
		folder = types.Uncategorized
	}
	if !m.state.HasFolder(folder) {
		return invalid("edit item", ErrUnknownFolder)
	}

	it := &m.state.Items[i]
	it.Name = strings.TrimSpace(f.Name)
	it.Price = f.Price
	it.URL = f.URL
	it.Notes = f.Notes
	it.Folder = folder
	applog.Info("cart.edit", "id", id)
	m.commit(ctx, "edit")
	return nil
}

// MoveItem reassigns one item to an existing folder.
func (m *Model) MoveItem(ctx context.Context, id, folder string) error {
	i := m.index(id)
	if i < 0 {
		return invalid("move item", ErrItemNotFound)
	}
	if !m.state.HasFolder(folder) {
		return invalid("move item", ErrUnknownFolder)
	}
	if m.state.Items[i].Folder == folder {
		return nil
	}
	m.state.Items[i].Folder = folder
	applog.Info("cart.move", "id", id, "folder", folder)
	m.commit(ctx, "move")
	return nil
}

// ClearResult tells the presenter which acknowledgment to show.
type ClearResult int

const (
	ClearDone ClearResult = iota
	ClearAlreadyEmpty
	ClearCancelled
)

// Clear empties the cart after confirm returns true. Folders are kept. An
// empty cart short-circuits without asking.
func (m *Model) Clear(ctx context.Context, confirm func() bool) ClearResult {
	if len(m.state.Items) == 0 {
		return ClearAlreadyEmpty
	}
	if confirm != nil && !confirm() {
		return ClearCancelled
	}
	n := len(m.state.Items)
	m.state.Items = []types.Item{}
	applog.Info("cart.clear", "items", n)
	m.commit(ctx, "clear")
	return ClearDone
}

// SetCurrency changes the display label. Prices are not converted.
func (m *Model) SetCurrency(ctx context.Context, c types.Currency) error {
	if !c.Valid() {
		return invalid("set currency", ErrInvalidCurrency)
	}
	if m.state.Currency == c {
		return nil
	}
	m.state.Currency = c
	m.commit(ctx, "currency")
	return nil
}

// Export builds an immutable snapshot. An empty cart is rejected.
func (m *Model) Export(now time.Time) (types.Snapshot, error) {
	if len(m.state.Items) == 0 {
		return types.Snapshot{}, ErrCartEmpty
	}
	items := m.Items()
	var total float64
	for _, it := range items {
		total += it.Price
	}
	return types.Snapshot{
		Items:      items,
		TotalItems: len(items),
		TotalPrice: total,
		ExportedAt: now,
		Currency:   m.state.Currency,
	}, nil
}

// Refresher looks up current prices for items.
type Refresher interface {
	RefreshAll(ctx context.Context, items []types.Item) []types.PriceUpdate
}

// RefreshPrices runs r over the current items and applies its results.
// It must not be called while another goroutine owns the model; the TUI
// runs the refresher itself and hands the updates to ApplyPriceUpdates.
func (m *Model) RefreshPrices(ctx context.Context, r Refresher) int {
	return m.ApplyPriceUpdates(ctx, r.RefreshAll(ctx, m.Items()))
}

// ApplyPriceUpdates overwrites prices for items that still exist and
// persists the cart once. It returns the number of items updated.
func (m *Model) ApplyPriceUpdates(ctx context.Context, updates []types.PriceUpdate) int {
	n := 0
	for _, u := range updates {
		i := m.index(u.ItemID)
		if i < 0 || u.NewPrice <= 0 {
			continue
		}
		m.state.Items[i].Price = u.NewPrice
		n++
	}
	applog.Info("cart.refresh", "updated", n, "candidates", len(updates))
	m.commit(ctx, "refresh")
	return n
}

// Reload replaces the in-memory state with what the store holds now. There
// is no merge: the last writer wins.
func (m *Model) Reload(ctx context.Context) error {
	st, err := m.store.Load(ctx)
	if err != nil {
		applog.Error("cart.reload", err)
		return err
	}
	m.state = st
	// What we failed to write has been overwritten by what the store holds.
	m.persistErr = nil
	m.notify(Event{Kind: EventReplaced, Op: "reload"})
	return nil
}

// Sync reloads when another writer changed the store since our last read
// or write. It reports whether the state was replaced.
func (m *Model) Sync(ctx context.Context) (bool, error) {
	cd, ok := m.store.(ChangeDetector)
	if !ok {
		return false, nil
	}
	changed, err := cd.Changed(ctx)
	if err != nil || !changed {
		return false, err
	}
	if err := m.Reload(ctx); err != nil {
		return false, err
	}
	return true, nil
}
