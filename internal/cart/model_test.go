package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotas/unicart/internal/storage"
	"github.com/lotas/unicart/internal/types"
)

// memStore keeps the last saved state in memory.
type memStore struct {
	saved   *types.CartState
	saves   int
	failing error
	changed bool
}

func (s *memStore) Load(ctx context.Context) (*types.CartState, error) {
	if s.saved == nil {
		return types.NewCartState(), nil
	}
	s.changed = false
	return s.saved.Clone(), nil
}

func (s *memStore) Save(ctx context.Context, st *types.CartState) error {
	if s.failing != nil {
		return s.failing
	}
	s.saves++
	s.saved = st.Clone()
	return nil
}

func (s *memStore) Changed(ctx context.Context) (bool, error) {
	return s.changed, nil
}

func newTestModel(t *testing.T) (*Model, *memStore) {
	t.Helper()
	store := &memStore{}
	m, err := Load(context.Background(), store)
	require.NoError(t, err)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("item-%d", n)
	}
	m.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	return m, store
}

func add(t *testing.T, m *Model, name string, price float64, folder string) types.Item {
	t.Helper()
	it, err := m.AddItem(context.Background(), Fields{Name: name, Price: price}, folder)
	require.NoError(t, err)
	return it
}

// assertInvariants checks that Uncategorized exists and every item points at
// an existing folder.
func assertInvariants(t *testing.T, st *types.CartState) {
	t.Helper()
	require.True(t, st.HasFolder(types.Uncategorized), "Uncategorized missing")
	for _, it := range st.Items {
		assert.True(t, st.HasFolder(it.Folder), "item %s references missing folder %q", it.ID, it.Folder)
	}
}

func TestAddItem(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)
	require.NoError(t, m.CreateFolder(ctx, "Gifts", "red"))

	it := add(t, m, "Scarf", 19.5, "Gifts")
	assert.Equal(t, "item-1", it.ID)
	assert.Equal(t, types.SourceManual, it.Source)
	assert.Equal(t, "Gifts", it.Folder)
	assert.False(t, it.AddedAt.IsZero())

	orphan := add(t, m, "Mug", 8, "NoSuchFolder")
	assert.Equal(t, types.Uncategorized, orphan.Folder)

	require.Len(t, store.saved.Items, 2)
	assert.Equal(t, "Scarf", store.saved.Items[0].Name)
	assert.Equal(t, "Mug", store.saved.Items[1].Name)
}

func TestAddItem_SourceIsOneOfKnownValues(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t)

	for src, want := range map[types.Source]types.Source{
		"":                         types.SourceManual,
		"bogus":                    types.SourceManual,
		types.SourceContextMenu:    types.SourceContextMenu,
		types.SourcePageExtraction: types.SourcePageExtraction,
	} {
		it, err := m.AddItem(ctx, Fields{Name: "X", Price: 1, Source: src}, "")
		require.NoError(t, err)
		assert.Equal(t, want, it.Source, "source %q", src)
	}
}

func TestAddItem_Validation(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)

	_, err := m.AddItem(ctx, Fields{Name: "  ", Price: 1}, "")
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.True(t, IsValidation(err))

	_, err = m.AddItem(ctx, Fields{Name: "Bad", Price: math.NaN()}, "")
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = m.AddItem(ctx, Fields{Name: "Bad", Price: -1}, "")
	assert.ErrorIs(t, err, ErrInvalidPrice)

	assert.Empty(t, m.Items())
	assert.Zero(t, store.saves)
}

func TestParseInput(t *testing.T) {
	f, err := ParseInput(" Lamp ", "24.90", "https://shop.example/lamp", "")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", f.Name)
	assert.Equal(t, 24.90, f.Price)

	_, err = ParseInput("Lamp", "cheap", "", "")
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = ParseInput("", "3", "", "")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestAddExtracted(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t)

	_, err := m.AddExtracted(ctx, types.Extraction{Success: false, Name: "x"}, "https://a.example", types.SourceContextMenu, "")
	assert.ErrorIs(t, err, ErrNotExtracted)
	assert.Empty(t, m.Items())

	it, err := m.AddExtracted(ctx, types.Extraction{Success: true, Name: "Drill", Price: 89, Notes: "cordless"}, "https://tools.example/drill", types.SourceContextMenu, "")
	require.NoError(t, err)
	assert.Equal(t, types.SourceContextMenu, it.Source)
	assert.Equal(t, "https://tools.example/drill", it.URL)
	assert.Equal(t, "cordless", it.Notes)
}

func TestRemoveItem(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)
	a := add(t, m, "A", 1, "")
	add(t, m, "B", 2, "")

	m.RemoveItem(ctx, a.ID)
	require.Len(t, m.Items(), 1)
	assert.Equal(t, "B", m.Items()[0].Name)

	saves := store.saves
	m.RemoveItem(ctx, "does-not-exist")
	assert.Len(t, m.Items(), 1)
	assert.Equal(t, saves, store.saves, "no-op remove must not persist")
}

func TestEditItem(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t)
	require.NoError(t, m.CreateFolder(ctx, "Home", ""))
	it := add(t, m, "Chair", 40, "")

	err := m.EditItem(ctx, it.ID, Fields{Name: "Armchair", Price: 120, URL: "https://f.example/a", Notes: "green"}, "Home")
	require.NoError(t, err)
	got, ok := m.Item(it.ID)
	require.True(t, ok)
	assert.Equal(t, "Armchair", got.Name)
	assert.Equal(t, 120.0, got.Price)
	assert.Equal(t, "Home", got.Folder)
	assert.Equal(t, it.AddedAt, got.AddedAt)
	assert.Equal(t, it.Source, got.Source)

	before, _ := m.Item(it.ID)
	err = m.EditItem(ctx, it.ID, Fields{Name: "", Price: 1}, "Home")
	assert.ErrorIs(t, err, ErrEmptyName)
	err = m.EditItem(ctx, it.ID, Fields{Name: "X", Price: 1}, "Nowhere")
	assert.ErrorIs(t, err, ErrUnknownFolder)
	err = m.EditItem(ctx, "missing", Fields{Name: "X", Price: 1}, "")
	assert.ErrorIs(t, err, ErrItemNotFound)
	after, _ := m.Item(it.ID)
	assert.Equal(t, before, after, "rejected edits must not mutate")
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)
	require.NoError(t, m.CreateFolder(ctx, "Gifts", ""))

	asked := false
	res := m.Clear(ctx, func() bool { asked = true; return true })
	assert.Equal(t, ClearAlreadyEmpty, res)
	assert.False(t, asked, "empty cart must not ask for confirmation")

	add(t, m, "A", 1, "Gifts")
	assert.Equal(t, ClearCancelled, m.Clear(ctx, func() bool { return false }))
	assert.Len(t, m.Items(), 1)

	assert.Equal(t, ClearDone, m.Clear(ctx, func() bool { return true }))
	assert.Empty(t, m.Items())
	assert.True(t, m.State().HasFolder("Gifts"), "clear keeps folders")
	assert.Empty(t, store.saved.Items)
}

func TestSetCurrency(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t)
	add(t, m, "A", 10, "")

	require.NoError(t, m.SetCurrency(ctx, types.JPY))
	assert.Equal(t, types.JPY, m.Currency())
	assert.Equal(t, 10.0, m.Items()[0].Price, "no conversion")

	err := m.SetCurrency(ctx, "BTC")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
	assert.Equal(t, types.JPY, m.Currency())
}

func TestExport(t *testing.T) {
	m, _ := newTestModel(t)
	_, err := m.Export(time.Now())
	assert.ErrorIs(t, err, ErrCartEmpty)

	add(t, m, "A", 10, "")
	add(t, m, "B", 5.5, "")
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	snap, err := m.Export(now)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalItems)
	assert.Equal(t, 15.5, snap.TotalPrice)
	assert.Equal(t, now, snap.ExportedAt)
	assert.Equal(t, types.EUR, snap.Currency)

	// The snapshot does not alias model state.
	snap.Items[0].Name = "changed"
	assert.Equal(t, "A", m.Items()[0].Name)
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	m, store := newTestModel(t)
	store.failing = errors.New("disk full")

	it := add(t, m, "A", 1, "")
	assert.Error(t, m.PersistErr())
	_, ok := m.Item(it.ID)
	assert.True(t, ok, "in-memory state stays authoritative")

	store.failing = nil
	add(t, m, "B", 2, "")
	assert.NoError(t, m.PersistErr())
	assert.Len(t, store.saved.Items, 2)
}

func TestSyncClearsPersistFailure(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)
	store.failing = errors.New("disk full")
	add(t, m, "A", 1, "")
	require.Error(t, m.PersistErr())

	store.failing = nil
	other := types.NewCartState()
	other.Items = []types.Item{{ID: "ext", Name: "From elsewhere", Folder: types.Uncategorized}}
	store.saved = other
	store.changed = true

	replaced, err := m.Sync(ctx)
	require.NoError(t, err)
	require.True(t, replaced)
	assert.NoError(t, m.PersistErr(), "adopted state has nothing unsaved")
	assert.Equal(t, "ext", m.Items()[0].ID)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)

	var events []Event
	unsubscribe := m.Subscribe(func(ev Event) { events = append(events, ev) })

	add(t, m, "A", 1, "")
	require.Len(t, events, 1)
	assert.Equal(t, EventChanged, events[0].Kind)
	assert.Equal(t, "add", events[0].Op)

	// Another writer replaces the stored state.
	other := types.NewCartState()
	other.Items = []types.Item{{ID: "ext", Name: "From elsewhere", Folder: types.Uncategorized}}
	store.saved = other
	store.changed = true

	replaced, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, replaced)
	require.Len(t, events, 2)
	assert.Equal(t, EventReplaced, events[1].Kind)
	require.Len(t, m.Items(), 1)
	assert.Equal(t, "ext", m.Items()[0].ID, "last writer wins, no merge")

	replaced, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, replaced)

	unsubscribe()
	add(t, m, "B", 1, "")
	assert.Len(t, events, 2)
}

type fakeRefresher struct {
	updates []types.PriceUpdate
	seen    []types.Item
}

func (f *fakeRefresher) RefreshAll(ctx context.Context, items []types.Item) []types.PriceUpdate {
	f.seen = items
	return f.updates
}

func TestRefreshPrices(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)
	a := add(t, m, "A", 10, "")
	b := add(t, m, "B", 20, "")
	saves := store.saves

	r := &fakeRefresher{updates: []types.PriceUpdate{
		{ItemID: a.ID, OldPrice: 10, NewPrice: 12},
		{ItemID: "gone", OldPrice: 1, NewPrice: 2},
	}}
	n := m.RefreshPrices(ctx, r)
	assert.Equal(t, 1, n)
	assert.Len(t, r.seen, 2)

	got, _ := m.Item(a.ID)
	assert.Equal(t, 12.0, got.Price)
	got, _ = m.Item(b.ID)
	assert.Equal(t, 20.0, got.Price)
	assert.Equal(t, saves+1, store.saves, "refresh persists once")
}

func TestFolderInvariantHoldsUnderRandomOperations(t *testing.T) {
	ctx := context.Background()
	m, store := newTestModel(t)
	rng := rand.New(rand.NewSource(7))
	names := []string{"Gifts", "Presents", "Home", "Work", types.Uncategorized, ""}

	for i := 0; i < 500; i++ {
		name := names[rng.Intn(len(names))]
		other := names[rng.Intn(len(names))]
		switch rng.Intn(6) {
		case 0:
			_ = m.CreateFolder(ctx, name, "")
		case 1:
			_ = m.RenameFolder(ctx, name, other, "")
		case 2:
			_ = m.DeleteFolder(ctx, name)
		case 3:
			_, _ = m.AddItem(ctx, Fields{Name: fmt.Sprintf("item %d", i), Price: 1}, name)
		case 4:
			items := m.Items()
			if len(items) > 0 {
				_ = m.MoveItem(ctx, items[rng.Intn(len(items))].ID, name)
			}
		case 5:
			items := m.Items()
			if len(items) > 0 {
				m.RemoveItem(ctx, items[rng.Intn(len(items))].ID)
			}
		}
		assertInvariants(t, m.State())
		if store.saved != nil {
			assertInvariants(t, store.saved)
		}
	}
}

func TestRenameFolderAtomicInSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := Load(ctx, storage.NewCartStore(db))
	require.NoError(t, err)
	require.NoError(t, m.CreateFolder(ctx, "Gifts", "red"))
	for i := 0; i < 3; i++ {
		_, err := m.AddItem(ctx, Fields{Name: fmt.Sprintf("gift %d", i), Price: 1}, "Gifts")
		require.NoError(t, err)
	}

	require.NoError(t, m.RenameFolder(ctx, "Gifts", "Presents", ""))

	st, err := storage.NewCartStore(db).Load(ctx)
	require.NoError(t, err)
	assert.False(t, st.HasFolder("Gifts"))
	for _, it := range st.Items {
		assert.Equal(t, "Presents", it.Folder)
	}
	assertInvariants(t, st)
}
