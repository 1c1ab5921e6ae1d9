package ws

import "encoding/json"

// FrameType represents the type of WebSocket frame.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Method represents a WebSocket request method.
type Method string

const (
	MethodSendMessage Method = "send_message"
	MethodSendAction  Method = "send_action"
	MethodOpenThread  Method = "open_thread"
)

// Frame is the WebSocket protocol envelope.
type Frame struct {
	Type     FrameType       `json:"type"`
	ID       string          `json:"id,omitempty"`
	Method   string          `json:"method,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	OK       *bool           `json:"ok,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
	ErrKind  string          `json:"err_kind,omitempty"`
	Event    string          `json:"event,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
}

// SendMessageParams are the parameters of a send_message request.
// An empty ThreadID starts a new thread.
type SendMessageParams struct {
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text"`
}

// SendActionParams are the parameters of a send_action request.
type SendActionParams struct {
	ThreadID string          `json:"thread_id"`
	WidgetID string          `json:"widget_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// OpenThreadParams are the parameters of an open_thread request.
type OpenThreadParams struct {
	ThreadID string `json:"thread_id"`
	Limit    int    `json:"limit,omitempty"`
}

// MarshalFrame serializes a Frame to JSON bytes.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame deserializes JSON bytes into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// NewEventFrame creates a Frame carrying one turn event.
func NewEventFrame(event string, threadID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:     FrameTypeEvent,
		Event:    event,
		ThreadID: threadID,
		Payload:  data,
	}, nil
}

// NewResponseFrame creates a response Frame.
func NewResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: errMsg,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}
