// Package background answers the extension's cart requests. Every reply is
// sent after the change it reports has been written to the store.
package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/cart"
	"github.com/lotas/unicart/internal/extract"
	"github.com/lotas/unicart/internal/server"
	"github.com/lotas/unicart/internal/types"
)

// Request actions.
const (
	ActionGetCart        = "getCart"
	ActionAddToCart      = "addToCart"
	ActionRemoveFromCart = "removeFromCart"
	ActionClearCart      = "clearCart"
	ActionContextMenuAdd = "contextMenuAdd"

	actionResponse = "response"
)

// ErrUnknownAction is reported for requests we do not handle.
var ErrUnknownAction = errors.New("unknown action")

// Transport is the extension connection.
type Transport interface {
	Messages() <-chan server.IncomingMsg
	Send(msg server.OutgoingMsg) error
}

// Dispatcher owns a cart model for the lifetime of the bridge.
type Dispatcher struct {
	model *cart.Model
}

// New returns a Dispatcher operating on m.
func New(m *cart.Model) *Dispatcher {
	return &Dispatcher{model: m}
}

// wireItem is an item as the extension sends it.
type wireItem struct {
	Name   string       `json:"name"`
	Price  float64      `json:"price"`
	URL    string       `json:"url"`
	Notes  string       `json:"notes"`
	Source types.Source `json:"source"`
	Folder string       `json:"folder"`
}

// Handle processes one request and returns the reply.
func (d *Dispatcher) Handle(ctx context.Context, msg server.IncomingMsg) server.OutgoingMsg {
	reply := server.OutgoingMsg{ID: msg.ID, Action: actionResponse}

	// Another process may have written since the last request.
	if _, err := d.model.Sync(ctx); err != nil {
		applog.Error("background.sync", err)
	}

	err := d.handle(ctx, msg, &reply)
	if msg.Action != ActionGetCart {
		ok := err == nil
		reply.Success = &ok
	}
	if err != nil {
		reply.Error = err.Error()
		applog.Warn("background.request", "action", msg.Action, "id", msg.ID, "err", err)
	} else if perr := d.model.PersistErr(); perr != nil {
		reply.Error = "saved in memory only: " + perr.Error()
	}
	return reply
}

func (d *Dispatcher) handle(ctx context.Context, msg server.IncomingMsg, reply *server.OutgoingMsg) error {
	switch msg.Action {
	case ActionGetCart:
		items := d.model.Items()
		if items == nil {
			items = []types.Item{}
		}
		reply.Cart = items
		return nil

	case ActionAddToCart:
		var in wireItem
		if len(msg.Item) == 0 {
			return fmt.Errorf("%s: missing item", msg.Action)
		}
		if err := json.Unmarshal(msg.Item, &in); err != nil {
			return fmt.Errorf("%s: %w", msg.Action, err)
		}
		_, err := d.model.AddItem(ctx, cart.Fields{
			Name:   in.Name,
			Price:  in.Price,
			URL:    in.URL,
			Notes:  in.Notes,
			Source: in.Source,
		}, in.Folder)
		return err

	case ActionRemoveFromCart:
		d.model.RemoveItem(ctx, msg.ItemID)
		return nil

	case ActionClearCart:
		d.model.Clear(ctx, nil)
		return nil

	case ActionContextMenuAdd:
		ext, err := extract.Parse(strings.NewReader(msg.HTML))
		if err != nil {
			return err
		}
		if _, err := d.model.AddExtracted(ctx, ext, msg.URL, types.SourceContextMenu, ""); err != nil {
			if errors.Is(err, cart.ErrNotExtracted) {
				return errors.New("could not extract product info")
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
}

// Run answers requests from t until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, t Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-t.Messages():
			d.serve(ctx, t, msg)
		}
	}
}

// Refresh runs r over a copy of the items on another goroutine and keeps
// answering requests from t until it finishes. The updates are applied here,
// so the model is still only touched by the caller's goroutine. Items removed
// in the meantime are skipped.
func (d *Dispatcher) Refresh(ctx context.Context, t Transport, r cart.Refresher) int {
	items := d.model.Items()
	done := make(chan []types.PriceUpdate, 1)
	go func() { done <- r.RefreshAll(ctx, items) }()
	for {
		select {
		case updates := <-done:
			return d.model.ApplyPriceUpdates(ctx, updates)
		case msg := <-t.Messages():
			d.serve(ctx, t, msg)
		}
	}
}

func (d *Dispatcher) serve(ctx context.Context, t Transport, msg server.IncomingMsg) {
	switch msg.Type {
	case server.TypeHello:
		applog.Info("background.hello")
	case server.TypeRequest:
		if err := t.Send(d.Handle(ctx, msg)); err != nil {
			applog.Error("background.reply", err, "action", msg.Action, "id", msg.ID)
		}
	default:
		applog.Warn("background.ignored", "type", msg.Type)
	}
}
