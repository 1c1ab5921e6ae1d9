package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// INBOUND EVENTS
// =============================================================================

// MessageReceivedPayload is a free-text user message entering the core.
type MessageReceivedPayload struct {
	ThreadID string `json:"thread_id,omitempty"` // empty = new thread
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
}

func (MessageReceivedPayload) EventType() EventType { return EventMessageReceived }

// ActionReceivedPayload is structured feedback from a rendered widget,
// e.g. a "mark complete" button press on a task card.
type ActionReceivedPayload struct {
	ThreadID string          `json:"thread_id"`
	UserID   string          `json:"user_id"`
	WidgetID string          `json:"widget_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (ActionReceivedPayload) EventType() EventType { return EventActionReceived }

// =============================================================================
// TURN STREAM EVENTS
// =============================================================================

// Widget is a renderable, non-authoritative view of an operation result.
type Widget struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// TurnMessagePayload is a chunk of assistant reply text.
type TurnMessagePayload struct {
	Content string `json:"content"`
}

func (TurnMessagePayload) EventType() EventType { return EventTurnMessage }

// TurnWidgetPayload carries one widget produced by an operation result.
type TurnWidgetPayload struct {
	Widget Widget `json:"widget"`
}

func (TurnWidgetPayload) EventType() EventType { return EventTurnWidget }

// TurnCompletionPayload is the single terminal success event of a turn.
type TurnCompletionPayload struct{}

func (TurnCompletionPayload) EventType() EventType { return EventTurnCompletion }

// TurnErrorPayload replaces completion when a turn fails.
type TurnErrorPayload struct {
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason"`
}

func (TurnErrorPayload) EventType() EventType { return EventTurnError }

// =============================================================================
// LIFECYCLE / INTERNAL EVENTS
// =============================================================================

type ThreadCreatedPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

func (ThreadCreatedPayload) EventType() EventType { return EventThreadCreated }

// ReasonerCallPayload traces one round-trip through the reasoning adapter.
// Dispatch publishes "start" and "end" phases; the model callback handler
// publishes "request", "response" and "error" phases with token usage.
type ReasonerCallPayload struct {
	Phase        string        `json:"phase"`
	Model        string        `json:"model,omitempty"`
	MessageCount int           `json:"message_count,omitempty"`
	Proposals    int           `json:"proposals,omitempty"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (ReasonerCallPayload) EventType() EventType { return EventReasonerCall }

// =============================================================================
// TYPED EVENT CONSTRUCTORS / EXTRACTORS
// =============================================================================

// NewTypedEvent builds an Event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTypedEventForThread builds an Event bound to a thread.
func NewTypedEventForThread(source EventSource, payload EventPayload, threadID string) Event {
	e := NewTypedEvent(source, payload)
	e.ThreadID = threadID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event's payload map back into a typed payload.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetMessageReceivedPayload(e Event) (MessageReceivedPayload, bool) {
	return ExtractPayload[MessageReceivedPayload](e)
}

func GetActionReceivedPayload(e Event) (ActionReceivedPayload, bool) {
	return ExtractPayload[ActionReceivedPayload](e)
}

func GetTurnMessagePayload(e Event) (TurnMessagePayload, bool) {
	return ExtractPayload[TurnMessagePayload](e)
}

func GetTurnWidgetPayload(e Event) (TurnWidgetPayload, bool) {
	return ExtractPayload[TurnWidgetPayload](e)
}

func GetTurnErrorPayload(e Event) (TurnErrorPayload, bool) {
	return ExtractPayload[TurnErrorPayload](e)
}

func GetReasonerCallPayload(e Event) (ReasonerCallPayload, bool) {
	return ExtractPayload[ReasonerCallPayload](e)
}
