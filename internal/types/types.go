package types

import "time"

// Uncategorized is the permanent default folder. It always exists and
// receives items whose folder is missing or deleted.
const Uncategorized = "Uncategorized"

// Source records how an item entered the cart.
type Source string

const (
	SourceManual         Source = "manual"
	SourcePageExtraction Source = "page-extraction"
	SourceContextMenu    Source = "context-menu"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourcePageExtraction, SourceContextMenu:
		return true
	}
	return false
}

// Currency is a display label only; stored prices are never converted.
type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
	JPY Currency = "JPY"
	GBP Currency = "GBP"
)

// Currencies lists the supported codes in cycling order.
var Currencies = []Currency{EUR, USD, JPY, GBP}

// Valid reports whether c is one of the supported codes.
func (c Currency) Valid() bool {
	for _, v := range Currencies {
		if c == v {
			return true
		}
	}
	return false
}

// Item is one product reference stored in the cart.
type Item struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Price   float64   `json:"price"`
	URL     string    `json:"url"`
	Notes   string    `json:"notes"`
	AddedAt time.Time `json:"addedAt"`
	Source  Source    `json:"source"`
	Folder  string    `json:"folder"`
}

// Folder is a named, colored grouping of items.
type Folder struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CartState is the full persisted document.
type CartState struct {
	Items    []Item
	Folders  []Folder
	Currency Currency
}

// NewCartState returns the first-run state: no items, only Uncategorized.
func NewCartState() *CartState {
	return &CartState{
		Folders:  []Folder{{Name: Uncategorized, Color: DefaultFolderColor}},
		Currency: EUR,
	}
}

// Clone returns a deep copy so callers can hold a snapshot that later
// mutations do not touch.
func (s *CartState) Clone() *CartState {
	c := &CartState{Currency: s.Currency}
	c.Items = append([]Item(nil), s.Items...)
	c.Folders = append([]Folder(nil), s.Folders...)
	return c
}

// HasFolder reports whether a folder with exactly this name exists.
func (s *CartState) HasFolder(name string) bool {
	for _, f := range s.Folders {
		if f.Name == name {
			return true
		}
	}
	return false
}

// DefaultFolderColor is used when a folder is created without a color.
const DefaultFolderColor = "grey"

// FolderColors is the palette offered when creating folders. It mirrors the
// browser's tab group colors.
var FolderColors = []string{"grey", "blue", "red", "yellow", "green", "pink", "purple", "cyan", "orange"}

// Extraction is the result of scanning a page for a product.
type Extraction struct {
	Success bool    `json:"success"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Notes   string  `json:"notes"`
}

// GroupMode selects the key used to cluster items for display.
type GroupMode int

const (
	GroupByFolder GroupMode = iota
	GroupByRetailer
)

func (g GroupMode) String() string {
	if g == GroupByRetailer {
		return "retailer"
	}
	return "folder"
}

// Snapshot is the immutable export document.
type Snapshot struct {
	Items      []Item    `json:"items"`
	TotalItems int       `json:"totalItems"`
	TotalPrice float64   `json:"totalPrice"`
	ExportedAt time.Time `json:"exportedAt"`
	Currency   Currency  `json:"currency"`
}

// PriceUpdate is a refreshed price found for one item.
type PriceUpdate struct {
	ItemID   string
	OldPrice float64
	NewPrice float64
}
