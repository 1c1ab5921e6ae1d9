// Package ws provides a WebSocket client for the tasktalk gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/pmorel/tasktalk/internal/gateway/ws"
)

// Client is a WebSocket client for the tasktalk gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint as userID.
func Dial(ctx context.Context, url, userID string) (*Client, error) {
	header := http.Header{}
	header.Set(wsprotocol.UserHeader, userID)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

func (c *Client) request(method wsprotocol.Method, params any) error {
	seq := atomic.AddUint64(&c.reqSeq, 1)

	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(method),
		Params: raw,
	}

	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return err
	}

	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// SendMessage sends a user message. An empty threadID starts a new thread.
func (c *Client) SendMessage(threadID, text string) error {
	return c.request(wsprotocol.MethodSendMessage, wsprotocol.SendMessageParams{
		ThreadID: threadID,
		Text:     text,
	})
}

// SendAction sends a widget action.
func (c *Client) SendAction(threadID, widgetID, actionType string, payload json.RawMessage) error {
	return c.request(wsprotocol.MethodSendAction, wsprotocol.SendActionParams{
		ThreadID: threadID,
		WidgetID: widgetID,
		Type:     actionType,
		Payload:  payload,
	})
}

// OpenThread requests a thread's metadata and recent messages.
func (c *Client) OpenThread(threadID string, limit int) error {
	return c.request(wsprotocol.MethodOpenThread, wsprotocol.OpenThreadParams{
		ThreadID: threadID,
		Limit:    limit,
	})
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
