package ws

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pmorel/tasktalk/internal/dispatch"
	"github.com/pmorel/tasktalk/internal/ops"
	"github.com/pmorel/tasktalk/internal/threads"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Type:   FrameTypeRequest,
		ID:     "1",
		Method: string(MethodSendMessage),
		Params: []byte(`{"thread_id":"th_1","text":"add buy milk"}`),
	}

	data, err := MarshalFrame(f)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Type != FrameTypeRequest || got.ID != "1" || got.Method != string(MethodSendMessage) {
		t.Errorf("got %+v", got)
	}
}

func TestNewEventFrame(t *testing.T) {
	f, err := NewEventFrame(dispatch.EventCompletion, "th_1", dispatch.Event{Type: dispatch.EventCompletion})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if f.Type != FrameTypeEvent {
		t.Errorf("type = %q", f.Type)
	}
	if f.ThreadID != "th_1" {
		t.Errorf("thread id = %q", f.ThreadID)
	}
	if f.Event != dispatch.EventCompletion {
		t.Errorf("event = %q", f.Event)
	}
}

func TestNewResponseFrame(t *testing.T) {
	f, err := NewResponseFrame("42", false, nil, "thread busy")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.OK == nil || *f.OK {
		t.Error("ok should be false")
	}
	if f.Error != "thread busy" {
		t.Errorf("error = %q", f.Error)
	}
}

func TestErrorKindMapping(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{dispatch.ErrThreadBusy, "busy"},
		{dispatch.ErrUnauthorized, string(ops.ErrKindUnauthorized)},
		{dispatch.ErrInvalidReference, string(ops.ErrKindInvalidReference)},
		{threads.ErrNotFound, string(ops.ErrKindNotFound)},
		{fmt.Errorf("wrapped: %w", dispatch.ErrThreadBusy), "busy"},
		{errors.New("disk on fire"), string(ops.ErrKindStoreUnavailable)},
	}
	for _, tt := range tests {
		if got := errorKind(tt.err); got != tt.want {
			t.Errorf("errorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
