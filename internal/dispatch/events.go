package dispatch

import (
	"github.com/pmorel/tasktalk/internal/events"
	"github.com/pmorel/tasktalk/internal/ops"
)

// Turn stream event kinds. A turn emits zero or more message and widget
// events followed by exactly one completion or error.
const (
	EventMessage    = "message"
	EventWidget     = "widget"
	EventCompletion = "completion"
	EventError      = "error"
)

// Event is one entry in a turn's ordered output stream. Consumers must
// deliver events in the order received; the channel is the ordering.
type Event struct {
	Type         string         `json:"type"`
	ThreadID     string         `json:"thread_id"`
	InvocationID string         `json:"invocation_id,omitempty"`
	Text         string         `json:"text,omitempty"`
	Widget       *events.Widget `json:"widget,omitempty"`
	// Result is attached to widget events and to message events that
	// report a per-operation failure.
	Result  *ops.Result `json:"result,omitempty"`
	ErrKind ops.ErrKind `json:"err_kind,omitempty"`
	ErrMsg  string      `json:"err_msg,omitempty"`
}
