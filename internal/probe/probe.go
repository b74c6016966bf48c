// Package probe looks up current product data by loading each page in a
// background tab and running the extractor on it, one page at a time.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/types"
)

// Default timings.
const (
	DefaultSettleDelay = 3 * time.Second
	DefaultStepTimeout = 15 * time.Second
	closeTimeout       = 5 * time.Second
)

// ErrNoPrice is returned when a page was extracted but carried no usable
// price.
var ErrNoPrice = errors.New("no price found")

// Browser is the tab API a Prober drives.
type Browser interface {
	OpenTab(ctx context.Context, url string) (int, error)
	Extract(ctx context.Context, tab int) (types.Extraction, error)
	CloseTab(ctx context.Context, tab int) error
}

// Prober visits pages sequentially.
type Prober struct {
	Browser     Browser
	SettleDelay time.Duration
	StepTimeout time.Duration
}

// New returns a Prober with the default timings.
func New(b Browser) *Prober {
	return &Prober{Browser: b, SettleDelay: DefaultSettleDelay, StepTimeout: DefaultStepTimeout}
}

func (p *Prober) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.StepTimeout)
}

// Probe opens url in a background tab, waits for the page to settle and
// extracts it. The tab is closed on every path, including cancellation of
// ctx.
func (p *Prober) Probe(ctx context.Context, url string) (ext types.Extraction, err error) {
	openCtx, cancel := p.step(ctx)
	tab, err := p.Browser.OpenTab(openCtx, url)
	cancel()
	if err != nil {
		return ext, fmt.Errorf("open tab: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := p.Browser.CloseTab(closeCtx, tab); cerr != nil {
			applog.Error("probe.close", cerr, "tab", tab)
		}
	}()

	if p.SettleDelay > 0 {
		t := time.NewTimer(p.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ext, ctx.Err()
		}
	}

	extCtx, cancel := p.step(ctx)
	defer cancel()
	ext, err = p.Browser.Extract(extCtx, tab)
	if err != nil {
		return ext, fmt.Errorf("extract: %w", err)
	}
	return ext, nil
}

// RefreshAll probes every item that has a URL and returns a price update for
// each page that extracted successfully with a positive price. Failures are
// logged and skipped. Cancelling ctx stops before the next item.
func (p *Prober) RefreshAll(ctx context.Context, items []types.Item) []types.PriceUpdate {
	var updates []types.PriceUpdate
	start := time.Now()
	for i, it := range items {
		if it.URL == "" {
			continue
		}
		if ctx.Err() != nil {
			applog.Warn("probe.cancelled", "done", i, "remaining", len(items)-i)
			break
		}
		ext, err := p.Probe(ctx, it.URL)
		if err == nil && (!ext.Success || ext.Price <= 0) {
			err = ErrNoPrice
		}
		if err != nil {
			applog.Warn("probe.item", "id", it.ID, "url", it.URL, "err", err)
			continue
		}
		applog.Info("probe.item", "id", it.ID, "old", it.Price, "new", ext.Price)
		updates = append(updates, types.PriceUpdate{ItemID: it.ID, OldPrice: it.Price, NewPrice: ext.Price})
	}
	applog.Info("probe.done", "items", len(items), "updated", len(updates), "elapsed", time.Since(start).Round(time.Millisecond))
	return updates
}
