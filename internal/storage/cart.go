package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/types"
)

// Persisted keys. The layout matches what the extension keeps in its own
// local storage so documents can be moved between the two unchanged.
const (
	KeyCart     = "cart"
	KeyFolders  = "folders"
	KeyCurrency = "currency"
)

// CartStore maps a CartState onto the cart/folders/currency keys.
// It remembers the revision of its own last read or write so Changed can
// tell whether another writer touched the store since.
type CartStore struct {
	kv *KV

	mu   sync.Mutex
	seen int64
}

// NewCartStore returns a store over db.
func NewCartStore(db *sql.DB) *CartStore {
	return &CartStore{kv: NewKV(db)}
}

// Load reads the full state. Missing keys default to an empty cart, the
// Uncategorized folder and EUR; the result is normalized so every item
// references an existing folder.
func (s *CartStore) Load(ctx context.Context) (*types.CartState, error) {
	values, rev, err := s.kv.Get(ctx, KeyCart, KeyFolders, KeyCurrency)
	if err != nil {
		return nil, err
	}

	st := &types.CartState{Currency: types.EUR}
	if raw, ok := values[KeyCart]; ok {
		if err := json.Unmarshal([]byte(raw), &st.Items); err != nil {
			return nil, fmt.Errorf("decode %s: %w", KeyCart, err)
		}
	}
	if raw, ok := values[KeyFolders]; ok {
		if err := json.Unmarshal([]byte(raw), &st.Folders); err != nil {
			return nil, fmt.Errorf("decode %s: %w", KeyFolders, err)
		}
	}
	if raw, ok := values[KeyCurrency]; ok {
		var c types.Currency
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", KeyCurrency, err)
		}
		st.Currency = c
	}

	Normalize(st)

	s.mu.Lock()
	s.seen = rev
	s.mu.Unlock()
	return st, nil
}

// Save writes items, folders and currency in one transaction.
func (s *CartStore) Save(ctx context.Context, st *types.CartState) error {
	items := st.Items
	if items == nil {
		items = []types.Item{}
	}
	cart, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyCart, err)
	}
	folders, err := json.Marshal(st.Folders)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyFolders, err)
	}
	currency, err := json.Marshal(st.Currency)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyCurrency, err)
	}

	rev, err := s.kv.Set(ctx, map[string]string{
		KeyCart:     string(cart),
		KeyFolders:  string(folders),
		KeyCurrency: string(currency),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seen = rev
	s.mu.Unlock()
	applog.Info("store.save", "rev", rev, "items", len(items), "folders", len(st.Folders))
	return nil
}

// Changed reports whether someone else wrote since our last Load or Save.
func (s *CartStore) Changed(ctx context.Context) (bool, error) {
	rev, err := s.kv.Revision(ctx)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return rev != s.seen, nil
}

// Normalize restores the state invariants in place: Uncategorized exists
// (first), folder names are unique, every item references an existing
// folder, colors and currency are valid.
func Normalize(st *types.CartState) {
	seen := make(map[string]bool, len(st.Folders)+1)
	folders := make([]types.Folder, 0, len(st.Folders)+1)
	folders = append(folders, types.Folder{Name: types.Uncategorized, Color: types.DefaultFolderColor})
	seen[types.Uncategorized] = true
	for _, f := range st.Folders {
		if f.Name == types.Uncategorized {
			if f.Color != "" {
				folders[0].Color = f.Color
			}
			continue
		}
		if f.Name == "" || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		if f.Color == "" {
			f.Color = types.DefaultFolderColor
		}
		folders = append(folders, f)
	}
	st.Folders = folders

	if st.Items == nil {
		st.Items = []types.Item{}
	}
	for i := range st.Items {
		if !seen[st.Items[i].Folder] {
			st.Items[i].Folder = types.Uncategorized
		}
	}

	if !st.Currency.Valid() {
		st.Currency = types.EUR
	}
}
