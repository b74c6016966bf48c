// Package bridge exposes the extension's tab API as a probe.Browser.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/extract"
	"github.com/lotas/unicart/internal/server"
	"github.com/lotas/unicart/internal/types"
)

// Calls made to the extension.
const (
	ActionOpenTab        = "openTab"
	ActionExtractProduct = "extractProductInfo"
	ActionCloseTab       = "closeTab"
	ActionActiveTab      = "activeTab"
)

// Caller sends a call to the extension and waits for its response.
type Caller interface {
	Call(ctx context.Context, msg server.OutgoingMsg) (server.IncomingMsg, error)
	CallWithLate(ctx context.Context, msg server.OutgoingMsg, late func(server.IncomingMsg)) (server.IncomingMsg, error)
}

const lateCloseTimeout = 5 * time.Second

// Browser drives real browser tabs. The extension returns page HTML and the
// extractor runs here.
type Browser struct {
	caller Caller
}

// New returns a Browser calling through c.
func New(c Caller) *Browser {
	return &Browser{caller: c}
}

// OpenTab opens url in a tab that does not take focus.
func (b *Browser) OpenTab(ctx context.Context, url string) (int, error) {
	active := false
	resp, err := b.caller.CallWithLate(ctx, server.OutgoingMsg{Action: ActionOpenTab, URL: url, Active: &active}, b.closeLate)
	if err != nil {
		return 0, err
	}
	if resp.TabID == 0 {
		return 0, fmt.Errorf("%s: no tab id in response", ActionOpenTab)
	}
	return resp.TabID, nil
}

// Extract asks the extension for the tab's HTML and extracts from it.
func (b *Browser) Extract(ctx context.Context, tab int) (types.Extraction, error) {
	resp, err := b.caller.Call(ctx, server.OutgoingMsg{Action: ActionExtractProduct, TabID: tab})
	if err != nil {
		return types.Extraction{}, err
	}
	return extract.Parse(strings.NewReader(resp.HTML))
}

// closeLate closes a tab whose openTab answer came after we gave up on it.
func (b *Browser) closeLate(resp server.IncomingMsg) {
	if resp.TabID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lateCloseTimeout)
	defer cancel()
	if err := b.CloseTab(ctx, resp.TabID); err != nil {
		applog.Error("bridge.close_late", err, "tab", resp.TabID)
		return
	}
	applog.Info("bridge.close_late", "tab", resp.TabID)
}

func (b *Browser) CloseTab(ctx context.Context, tab int) error {
	_, err := b.caller.Call(ctx, server.OutgoingMsg{Action: ActionCloseTab, TabID: tab})
	return err
}

// ActivePage is the focused tab's extraction.
type ActivePage struct {
	URL        string
	Extraction types.Extraction
}

// ExtractActive extracts the product on the tab the user is looking at.
func (b *Browser) ExtractActive(ctx context.Context) (ActivePage, error) {
	resp, err := b.caller.Call(ctx, server.OutgoingMsg{Action: ActionActiveTab})
	if err != nil {
		return ActivePage{}, err
	}
	ext, err := extract.Parse(strings.NewReader(resp.HTML))
	if err != nil {
		return ActivePage{URL: resp.URL}, err
	}
	return ActivePage{URL: resp.URL, Extraction: ext}, nil
}
