package background

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/server"
	"github.com/lotas/unicart/internal/storage"
	"github.com/lotas/unicart/internal/types"
)

type fixture struct {
	d     *Dispatcher
	model *cart.Model
	db    *sql.DB
}

func setup(t *testing.T) (*fixture, func() *types.CartState) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := cart.Load(ctx, storage.NewCartStore(db))
	require.NoError(t, err)

	// stored reads through an independent store, as another process would.
	stored := func() *types.CartState {
		st, err := storage.NewCartStore(db).Load(ctx)
		require.NoError(t, err)
		return st
	}
	return &fixture{d: New(m), model: m, db: db}, stored
}

func request(action string) server.IncomingMsg {
	return server.IncomingMsg{Type: server.TypeRequest, ID: "req-" + action, Action: action}
}

func TestAddToCartPersistsBeforeReply(t *testing.T) {
	f, stored := setup(t)
	msg := request(ActionAddToCart)
	msg.Item = json.RawMessage(`{"name":"Kettle","price":35.5,"url":"https://shop.example/kettle","source":"page-extraction"}`)

	reply := f.d.Handle(context.Background(), msg)

	assert.Equal(t, "req-addToCart", reply.ID)
	assert.Equal(t, "response", reply.Action)
	require.NotNil(t, reply.Success)
	assert.True(t, *reply.Success)
	assert.Empty(t, reply.Error)

	st := stored()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "Kettle", st.Items[0].Name)
	assert.Equal(t, types.SourcePageExtraction, st.Items[0].Source)
	assert.Equal(t, types.Uncategorized, st.Items[0].Folder)
}

func TestAddToCartRejectsInvalidItem(t *testing.T) {
	f, stored := setup(t)
	msg := request(ActionAddToCart)
	msg.Item = json.RawMessage(`{"name":"","price":3}`)

	reply := f.d.Handle(context.Background(), msg)
	require.NotNil(t, reply.Success)
	assert.False(t, *reply.Success)
	assert.NotEmpty(t, reply.Error)
	assert.Empty(t, stored().Items)

	reply = f.d.Handle(context.Background(), request(ActionAddToCart))
	assert.False(t, *reply.Success)
}

func TestAddToCartCoercesUnknownSource(t *testing.T) {
	f, stored := setup(t)
	msg := request(ActionAddToCart)
	msg.Item = json.RawMessage(`{"name":"Kettle","price":35.5,"source":"scraped-by-bot"}`)

	reply := f.d.Handle(context.Background(), msg)
	require.True(t, *reply.Success, reply.Error)

	st := stored()
	require.Len(t, st.Items, 1)
	assert.Equal(t, types.SourceManual, st.Items[0].Source)
}

func TestGetCart(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	reply := f.d.Handle(ctx, request(ActionGetCart))
	assert.Nil(t, reply.Success)
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cart":[]`)

	_, err = f.model.AddItem(ctx, cart.Fields{Name: "Mug", Price: 4}, "")
	require.NoError(t, err)
	reply = f.d.Handle(ctx, request(ActionGetCart))
	items, ok := reply.Cart.([]types.Item)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "Mug", items[0].Name)
}

func TestRemoveAndClear(t *testing.T) {
	f, stored := setup(t)
	ctx := context.Background()
	a, err := f.model.AddItem(ctx, cart.Fields{Name: "A", Price: 1}, "")
	require.NoError(t, err)
	_, err = f.model.AddItem(ctx, cart.Fields{Name: "B", Price: 2}, "")
	require.NoError(t, err)

	msg := request(ActionRemoveFromCart)
	msg.ItemID = a.ID
	reply := f.d.Handle(ctx, msg)
	assert.True(t, *reply.Success)
	require.Len(t, stored().Items, 1)

	reply = f.d.Handle(ctx, request(ActionClearCart))
	assert.True(t, *reply.Success)
	st := stored()
	assert.Empty(t, st.Items)
	assert.True(t, st.HasFolder(types.Uncategorized))

	// Clearing an empty cart is still a success.
	reply = f.d.Handle(ctx, request(ActionClearCart))
	assert.True(t, *reply.Success)
}

func TestContextMenuAdd(t *testing.T) {
	f, stored := setup(t)
	msg := request(ActionContextMenuAdd)
	msg.URL = "https://shop.example/widget"
	msg.HTML = `<html><body><h1 class="product-title">Widget</h1><span class="price">$12.50</span></body></html>`

	reply := f.d.Handle(context.Background(), msg)
	require.True(t, *reply.Success, reply.Error)

	st := stored()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "Widget", st.Items[0].Name)
	assert.Equal(t, 12.50, st.Items[0].Price)
	assert.Equal(t, types.SourceContextMenu, st.Items[0].Source)
	assert.Equal(t, "https://shop.example/widget", st.Items[0].URL)
	assert.Empty(t, st.Items[0].Notes, "no notes rule matched")
}

func TestContextMenuAddExtractionFailure(t *testing.T) {
	f, stored := setup(t)
	msg := request(ActionContextMenuAdd)
	msg.URL = "https://shop.example/blank"
	msg.HTML = `<html><body><p>nothing to see</p></body></html>`

	reply := f.d.Handle(context.Background(), msg)
	assert.False(t, *reply.Success)
	assert.Equal(t, "could not extract product info", reply.Error)
	assert.Empty(t, stored().Items)
}

func TestContextMenuAddTitleOnlyPageFails(t *testing.T) {
	f, stored := setup(t)
	msg := request(ActionContextMenuAdd)
	msg.URL = "https://bank.example/login"
	msg.HTML = `<html><head><title>Sign in - Example Bank</title></head>
<body><p>Please sign in to continue to your accounts. Your session has expired.</p></body></html>`

	reply := f.d.Handle(context.Background(), msg)
	assert.False(t, *reply.Success)
	assert.Equal(t, "could not extract product info", reply.Error)
	assert.Empty(t, stored().Items)
}

func TestUnknownAction(t *testing.T) {
	f, _ := setup(t)
	reply := f.d.Handle(context.Background(), request("launchRockets"))
	assert.False(t, *reply.Success)
	assert.Contains(t, reply.Error, "unknown action")
}

func TestHandleAdoptsExternalWrites(t *testing.T) {
	f, _ := setup(t)
	ctx := context.Background()

	// A second model on the same database plays the TUI process.
	other, err := cart.Load(ctx, storage.NewCartStore(f.db))
	require.NoError(t, err)
	_, err = other.AddItem(ctx, cart.Fields{Name: "From TUI", Price: 9}, "")
	require.NoError(t, err)

	reply := f.d.Handle(ctx, request(ActionGetCart))
	items := reply.Cart.([]types.Item)
	require.Len(t, items, 1)
	assert.Equal(t, "From TUI", items[0].Name)
}

// chanTransport feeds requests in and collects replies.
type chanTransport struct {
	in  chan server.IncomingMsg
	out chan server.OutgoingMsg
}

func (c *chanTransport) Messages() <-chan server.IncomingMsg { return c.in }

func (c *chanTransport) Send(msg server.OutgoingMsg) error {
	c.out <- msg
	return nil
}

func TestRun(t *testing.T) {
	f, _ := setup(t)
	tr := &chanTransport{in: make(chan server.IncomingMsg, 4), out: make(chan server.OutgoingMsg, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx, tr) }()

	tr.in <- server.IncomingMsg{Type: server.TypeHello}
	tr.in <- request(ActionGetCart)

	select {
	case reply := <-tr.out:
		assert.Equal(t, "req-getCart", reply.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// gatedRefresher blocks until release is closed, then reports a new price
// for every item it was given.
type gatedRefresher struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedRefresher) RefreshAll(ctx context.Context, items []types.Item) []types.PriceUpdate {
	close(g.started)
	<-g.release
	var out []types.PriceUpdate
	for _, it := range items {
		out = append(out, types.PriceUpdate{ItemID: it.ID, OldPrice: it.Price, NewPrice: it.Price + 1})
	}
	return out
}

func TestRefreshAnswersRequestsWhileRunning(t *testing.T) {
	f, stored := setup(t)
	ctx := context.Background()
	kettle, err := f.model.AddItem(ctx, cart.Fields{Name: "Kettle", Price: 30, URL: "https://shop.example/kettle"}, "")
	require.NoError(t, err)
	mug, err := f.model.AddItem(ctx, cart.Fields{Name: "Mug", Price: 5, URL: "https://shop.example/mug"}, "")
	require.NoError(t, err)

	tr := &chanTransport{in: make(chan server.IncomingMsg, 4), out: make(chan server.OutgoingMsg, 4)}
	r := &gatedRefresher{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan int, 1)
	go func() { done <- f.d.Refresh(ctx, tr, r) }()
	<-r.started

	remove := request(ActionRemoveFromCart)
	remove.ItemID = mug.ID
	tr.in <- remove
	select {
	case reply := <-tr.out:
		assert.Equal(t, "req-removeFromCart", reply.ID)
		assert.True(t, *reply.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("request not answered during refresh")
	}

	close(r.release)
	select {
	case n := <-done:
		assert.Equal(t, 1, n, "the removed item is not updated")
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not finish")
	}

	st := stored()
	require.Len(t, st.Items, 1)
	assert.Equal(t, kettle.ID, st.Items[0].ID)
	assert.Equal(t, 31.0, st.Items[0].Price)
}
