package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lotas/unicart/internal/types"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "unicart.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not found: %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != len(migrations) {
		t.Errorf("applied %d migrations, want %d", n, len(migrations))
	}
}

func TestOpenDB_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "again.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	db, err = OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()

	rev, err := NewKV(db).Revision(context.Background())
	if err != nil || rev != 0 {
		t.Errorf("Revision = %d, %v; want 0, nil", rev, err)
	}
}

func TestKV_SetGetRevision(t *testing.T) {
	ctx := context.Background()
	kv := NewKV(testDB(t))

	values, rev, err := kv.Get(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(values) != 0 || rev != 0 {
		t.Errorf("empty store: values=%v rev=%d", values, rev)
	}

	rev, err = kv.Set(ctx, map[string]string{"a": "1", "b": "2"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if rev != 1 {
		t.Errorf("rev after first Set = %d, want 1", rev)
	}

	rev, err = kv.Set(ctx, map[string]string{"a": "3"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if rev != 2 {
		t.Errorf("rev after second Set = %d, want 2", rev)
	}

	values, rev, err = kv.Get(ctx, "a", "b", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if values["a"] != "3" || values["b"] != "2" {
		t.Errorf("values = %v", values)
	}
	if _, ok := values["missing"]; ok {
		t.Error("missing key should be absent")
	}
	if rev != 2 {
		t.Errorf("rev = %d, want 2", rev)
	}
}

func TestCartStore_Defaults(t *testing.T) {
	st, err := NewCartStore(testDB(t)).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st.Items) != 0 {
		t.Errorf("expected empty cart, got %d items", len(st.Items))
	}
	if len(st.Folders) != 1 || st.Folders[0].Name != types.Uncategorized {
		t.Errorf("folders = %+v, want only Uncategorized", st.Folders)
	}
	if st.Currency != types.EUR {
		t.Errorf("currency = %s, want EUR", st.Currency)
	}
}

func TestCartStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore(testDB(t))

	added := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &types.CartState{
		Items: []types.Item{
			{ID: "1", Name: "Kettle", Price: 29.99, URL: "https://shop.example/kettle", AddedAt: added, Source: types.SourceManual, Folder: "Kitchen"},
			{ID: "2", Name: "Socks", Price: 5, AddedAt: added, Source: types.SourceContextMenu, Folder: types.Uncategorized},
		},
		Folders: []types.Folder{
			{Name: types.Uncategorized, Color: "grey"},
			{Name: "Kitchen", Color: "green"},
		},
		Currency: types.GBP,
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out.Items) != 2 || out.Items[0].Name != "Kettle" || out.Items[1].Name != "Socks" {
		t.Fatalf("items = %+v", out.Items)
	}
	if !out.Items[0].AddedAt.Equal(added) {
		t.Errorf("addedAt = %v, want %v", out.Items[0].AddedAt, added)
	}
	if out.Items[0].Folder != "Kitchen" {
		t.Errorf("folder = %q, want Kitchen", out.Items[0].Folder)
	}
	if out.Currency != types.GBP {
		t.Errorf("currency = %s, want GBP", out.Currency)
	}
}

func TestCartStore_CoercesOrphans(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	// Written by an older extension: no folders key, items without folder,
	// and one item pointing at a folder that no longer exists.
	_, err := NewKV(db).Set(ctx, map[string]string{
		KeyCart: `[{"id":"1","name":"A","price":1,"folder":""},{"id":"2","name":"B","price":2},{"id":"3","name":"C","price":3,"folder":"Gone"}]`,
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	st, err := NewCartStore(db).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, it := range st.Items {
		if it.Folder != types.Uncategorized {
			t.Errorf("item %s folder = %q, want Uncategorized", it.ID, it.Folder)
		}
	}
}

func TestCartStore_Changed(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	mine := NewCartStore(db)
	theirs := NewCartStore(db)

	st, err := mine.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if changed, _ := mine.Changed(ctx); changed {
		t.Error("fresh load should not report a change")
	}

	if err := mine.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if changed, _ := mine.Changed(ctx); changed {
		t.Error("own write should not report a change")
	}

	if err := theirs.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if changed, _ := mine.Changed(ctx); !changed {
		t.Error("foreign write should report a change")
	}
}

func TestNormalize(t *testing.T) {
	st := &types.CartState{
		Folders: []types.Folder{
			{Name: "Gifts", Color: ""},
			{Name: "Gifts", Color: "red"},
			{Name: types.Uncategorized, Color: "blue"},
			{Name: ""},
		},
		Items:    []types.Item{{ID: "1", Folder: "Gifts"}, {ID: "2", Folder: "gifts"}},
		Currency: "XYZ",
	}
	Normalize(st)

	if len(st.Folders) != 2 {
		t.Fatalf("folders = %+v, want Uncategorized + Gifts", st.Folders)
	}
	if st.Folders[0].Name != types.Uncategorized || st.Folders[0].Color != "blue" {
		t.Errorf("first folder = %+v", st.Folders[0])
	}
	if st.Folders[1].Color != types.DefaultFolderColor {
		t.Errorf("Gifts color = %q, want default", st.Folders[1].Color)
	}
	if st.Items[0].Folder != "Gifts" {
		t.Errorf("item 1 folder = %q", st.Items[0].Folder)
	}
	// Folder names are case-sensitive.
	if st.Items[1].Folder != types.Uncategorized {
		t.Errorf("item 2 folder = %q, want Uncategorized", st.Items[1].Folder)
	}
	if st.Currency != types.EUR {
		t.Errorf("currency = %s, want EUR", st.Currency)
	}
}

func TestExports(t *testing.T) {
	db := testDB(t)

	older := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	if _, err := RecordExport(db, ExportRecord{Path: "a.json", TotalItems: 1, TotalPrice: 5, Currency: "EUR", ExportedAt: older}); err != nil {
		t.Fatalf("RecordExport: %v", err)
	}
	if _, err := RecordExport(db, ExportRecord{Path: "b.json", TotalItems: 2, TotalPrice: 15.5, Currency: "USD", ExportedAt: newer}); err != nil {
		t.Fatalf("RecordExport: %v", err)
	}

	recs, err := ListExports(db)
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Path != "b.json" || recs[0].TotalPrice != 15.5 {
		t.Errorf("newest record = %+v", recs[0])
	}
}
