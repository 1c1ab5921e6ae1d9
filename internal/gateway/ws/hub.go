package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/pmorel/tasktalk/internal/dispatch"
	"github.com/pmorel/tasktalk/internal/events"
	"github.com/pmorel/tasktalk/internal/ops"
	"github.com/pmorel/tasktalk/internal/threads"
)

// UserHeader carries the caller identity, verified upstream.
const UserHeader = "X-Tasktalk-User"

// Dispatcher runs turns. *dispatch.Engine satisfies it.
type Dispatcher interface {
	HandleMessage(ctx context.Context, threadID, userID, text string) (*threads.Thread, <-chan dispatch.Event, error)
	HandleAction(ctx context.Context, threadID, userID, widgetID, actionType string, payload json.RawMessage) (*threads.Thread, <-chan dispatch.Event, error)
}

// Client represents a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string
}

// Hub manages WebSocket clients and routes their requests to dispatch.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	engine      Dispatcher
	store       threads.Store
	bus         *events.Bus
	unsubscribe func()
}

// NewHub creates a new WebSocket hub.
func NewHub(engine Dispatcher, store threads.Store, bus *events.Bus) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		engine:  engine,
		store:   store,
		bus:     bus,
	}

	// Thread lifecycle notifications go to every client; turn events go
	// only to the requesting client, in order.
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.ThreadID, e.Payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(data)
	}, events.EventThreadCreated)

	return h
}

// broadcast sends data to all connected clients.
func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "user", c.userID, "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "user", c.userID, "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		http.Error(w, "missing "+UserHeader, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		userID: userID,
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		if frame.Type == FrameTypeRequest {
			c.handleRequest(ctx, frame)
		} else {
			slog.Debug("ws unknown frame type", "type", frame.Type)
		}
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodSendMessage:
		var params SendMessageParams
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.Text == "" {
			c.sendError(ctx, frame.ID, string(ops.ErrKindInvalidArguments), "invalid params")
			return
		}
		th, ch, err := c.hub.engine.HandleMessage(ctx, params.ThreadID, c.userID, params.Text)
		if err != nil {
			c.sendError(ctx, frame.ID, errorKind(err), err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"thread_id": th.ID})
		go c.streamTurn(ctx, th.ID, ch)

	case MethodSendAction:
		var params SendActionParams
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.WidgetID == "" {
			c.sendError(ctx, frame.ID, string(ops.ErrKindInvalidArguments), "invalid params")
			return
		}
		th, ch, err := c.hub.engine.HandleAction(ctx, params.ThreadID, c.userID, params.WidgetID, params.Type, params.Payload)
		if err != nil {
			c.sendError(ctx, frame.ID, errorKind(err), err.Error())
			return
		}
		c.sendOK(ctx, frame.ID, map[string]string{"thread_id": th.ID})
		go c.streamTurn(ctx, th.ID, ch)

	case MethodOpenThread:
		var params OpenThreadParams
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.ThreadID == "" {
			c.sendError(ctx, frame.ID, string(ops.ErrKindInvalidArguments), "invalid params")
			return
		}
		c.handleOpenThread(ctx, frame.ID, params)

	default:
		c.sendError(ctx, frame.ID, string(ops.ErrKindInvalidArguments), "unknown method: "+frame.Method)
	}
}

// streamTurn forwards one turn's events to the client in order.
func (c *Client) streamTurn(ctx context.Context, threadID string, ch <-chan dispatch.Event) {
	for ev := range ch {
		frame, err := NewEventFrame(ev.Type, threadID, ev)
		if err != nil {
			slog.Error("marshal turn event", "error", err)
			continue
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			continue
		}
		select {
		case c.send <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleOpenThread(ctx context.Context, reqID string, params OpenThreadParams) {
	th, err := c.hub.store.Get(params.ThreadID)
	if err != nil {
		c.sendError(ctx, reqID, errorKind(err), err.Error())
		return
	}
	if th.UserID != c.userID {
		c.sendError(ctx, reqID, string(ops.ErrKindUnauthorized), "thread owned by another user")
		return
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := c.hub.store.Tail(params.ThreadID, limit)
	if err != nil {
		c.sendError(ctx, reqID, errorKind(err), err.Error())
		return
	}

	c.sendOK(ctx, reqID, map[string]any{
		"thread":   th,
		"messages": msgs,
	})
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(ctx context.Context, id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	c.push(ctx, f)
}

func (c *Client) sendError(ctx context.Context, id, kind, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	f.ErrKind = kind
	c.push(ctx, f)
}

func (c *Client) push(ctx context.Context, f Frame) {
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-ctx.Done():
	}
}

// errorKind maps dispatch errors onto wire error kinds.
func errorKind(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrThreadBusy):
		return "busy"
	case errors.Is(err, dispatch.ErrUnauthorized):
		return string(ops.ErrKindUnauthorized)
	case errors.Is(err, dispatch.ErrInvalidReference):
		return string(ops.ErrKindInvalidReference)
	case errors.Is(err, threads.ErrNotFound):
		return string(ops.ErrKindNotFound)
	default:
		return string(ops.ErrKindStoreUnavailable)
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
