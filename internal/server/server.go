package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/lotas/unicart/internal/applog"
)

// ErrNotConnected is returned when no extension is attached.
var ErrNotConnected = errors.New("extension not connected")

// lateWindow is how long a response is still routed to a late handler after
// its caller stopped waiting.
const lateWindow = time.Minute

// Message types sent by the extension.
const (
	TypeHello    = "hello"
	TypeRequest  = "request"
	TypeResponse = "response"
)

// IncomingMsg is a message from the extension: either a request for the cart
// or the answer to one of our calls.
type IncomingMsg struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Action string `json:"action,omitempty"`

	// Request fields
	Item   json.RawMessage `json:"item,omitempty"`
	ItemID string          `json:"itemId,omitempty"`

	// Shared by contextMenuAdd requests and extraction responses
	URL  string `json:"url,omitempty"`
	HTML string `json:"html,omitempty"`

	// Response fields
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	TabID int    `json:"tabId,omitempty"`
}

// OutgoingMsg is a call to the extension or a reply to one of its requests.
type OutgoingMsg struct {
	ID     string `json:"id"`
	Action string `json:"action"`

	// Call fields
	URL    string `json:"url,omitempty"`
	Active *bool  `json:"active,omitempty"`
	TabID  int    `json:"tabId,omitempty"`

	// Reply fields
	Cart    any    `json:"cart,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server manages the WebSocket connection to the extension.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg
	late    map[string]func(IncomingMsg)
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		msgs:    make(chan IncomingMsg, 64),
		pending: make(map[string]chan IncomingMsg),
		late:    make(map[string]func(IncomingMsg)),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of requests from the extension. Responses to
// calls made with Call are routed to their caller instead.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send writes msg to the connected extension.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Call sends msg and waits for the response carrying the same id. A response
// with ok=false is turned into an error.
func (s *Server) Call(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	return s.CallWithLate(ctx, msg, nil)
}

// CallWithLate is Call, except that when ctx ends first a response that
// still arrives within a minute is passed to late. Callers use it to undo
// side effects of a call they gave up on.
func (s *Server) CallWithLate(ctx context.Context, msg OutgoingMsg, late func(IncomingMsg)) (IncomingMsg, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	ch := make(chan IncomingMsg, 1)
	s.mu.Lock()
	s.pending[msg.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, err)
	}

	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			if resp.Error == "" {
				resp.Error = "failed"
			}
			return resp, fmt.Errorf("%s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		applog.Warn("ws.call.timeout", "action", msg.Action, "id", msg.ID)
		if late != nil {
			s.handOver(msg.ID, ch, late)
		}
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
}

// handOver moves id from the waiting callers to the late handlers. A
// response delivered in between is already in ch.
func (s *Server) handOver(id string, ch chan IncomingMsg, late func(IncomingMsg)) {
	s.mu.Lock()
	delete(s.pending, id)
	select {
	case resp := <-ch:
		s.mu.Unlock()
		go late(resp)
		return
	default:
	}
	s.late[id] = late
	s.mu.Unlock()

	time.AfterFunc(lateWindow, func() {
		s.mu.Lock()
		delete(s.late, id)
		s.mu.Unlock()
	})
}

// deliver hands a response to its waiting caller or late handler and
// reports whether one was found.
func (s *Server) deliver(msg IncomingMsg) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.pending[msg.ID]; ok {
		select {
		case ch <- msg:
		default:
		}
		return true
	}
	if late, ok := s.late[msg.ID]; ok {
		delete(s.late, msg.ID)
		applog.Info("ws.late_response", "id", msg.ID)
		go late(msg)
		return true
	}
	return false
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("websocket accept: %v", err)
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // full page HTML can be large

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type, "action", msg.Action, "id", msg.ID)
			if msg.Type == TypeResponse {
				if !s.deliver(msg) {
					applog.Warn("ws.orphan_response", "id", msg.ID)
				}
				continue
			}
			select {
			case s.msgs <- msg:
			default:
				applog.Warn("ws.dropped", "action", msg.Action, "id", msg.ID)
			}
		}
	})
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
