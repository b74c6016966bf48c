package probe

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/lotas/unicart/internal/extract"
	"github.com/lotas/unicart/internal/types"
)

type page struct {
	url string
	raw []byte
}

// HTTPBrowser is a Browser without a browser: opening a tab downloads the
// page and keeps it in memory until the tab is closed. Pages that need
// scripts to render their price will extract poorly.
type HTTPBrowser struct {
	mu     sync.Mutex
	nextID int
	tabs   map[int]page
}

func NewHTTPBrowser() *HTTPBrowser {
	return &HTTPBrowser{tabs: make(map[int]page)}
}

func (b *HTTPBrowser) OpenTab(ctx context.Context, url string) (int, error) {
	raw, err := extract.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabs == nil {
		b.tabs = make(map[int]page)
	}
	b.nextID++
	b.tabs[b.nextID] = page{url: url, raw: raw}
	return b.nextID, nil
}

func (b *HTTPBrowser) Extract(ctx context.Context, tab int) (types.Extraction, error) {
	b.mu.Lock()
	p, ok := b.tabs[tab]
	b.mu.Unlock()
	if !ok {
		return types.Extraction{}, fmt.Errorf("no tab %d", tab)
	}
	return extract.Parse(bytes.NewReader(p.raw))
}

func (b *HTTPBrowser) CloseTab(ctx context.Context, tab int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tabs, tab)
	return nil
}

// Open returns the number of tabs not yet closed.
func (b *HTTPBrowser) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tabs)
}
