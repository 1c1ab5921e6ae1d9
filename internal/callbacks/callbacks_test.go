package callbacks

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/pmorel/tasktalk/internal/events"
)

func chatModelRunInfo(name string) *callbacks.RunInfo {
	return &callbacks.RunInfo{Name: name, Component: components.ComponentOfChatModel}
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus event")
		return events.Event{}
	}
}

func TestEventBusHandler_RequestPhase(t *testing.T) {
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	ch, cancel := bus.SubscribeChan(16, events.EventReasonerCall)
	defer cancel()

	handler := NewEventBusHandler(bus)
	ctx := events.ContextWithThreadID(context.Background(), "th_cb1")
	handler.OnStart(ctx, chatModelRunInfo("claude-sonnet-4-5"), &model.CallbackInput{
		Messages: []*schema.Message{
			schema.SystemMessage("sys"),
			schema.UserMessage("add milk"),
		},
	})

	e := waitEvent(t, ch)
	if e.ThreadID != "th_cb1" {
		t.Fatalf("thread id = %q, want th_cb1", e.ThreadID)
	}
	payload, ok := events.GetReasonerCallPayload(e)
	if !ok {
		t.Fatal("payload did not decode")
	}
	if payload.Phase != "request" {
		t.Fatalf("phase = %q, want request", payload.Phase)
	}
	if payload.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", payload.MessageCount)
	}
}

func TestEventBusHandler_ResponseTokens(t *testing.T) {
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	ch, cancel := bus.SubscribeChan(16, events.EventReasonerCall)
	defer cancel()

	handler := NewEventBusHandler(bus)
	ctx := events.ContextWithThreadID(context.Background(), "th_cb2")
	handler.OnEnd(ctx, chatModelRunInfo("claude-sonnet-4-5"), &model.CallbackOutput{
		Message: schema.AssistantMessage("done", nil),
		TokenUsage: &model.TokenUsage{
			PromptTokens:     120,
			CompletionTokens: 30,
			TotalTokens:      150,
		},
	})

	payload, ok := events.GetReasonerCallPayload(waitEvent(t, ch))
	if !ok {
		t.Fatal("payload did not decode")
	}
	if payload.Phase != "response" {
		t.Fatalf("phase = %q, want response", payload.Phase)
	}
	if payload.TokensInput != 120 || payload.TokensOutput != 30 {
		t.Fatalf("tokens = %d/%d, want 120/30", payload.TokensInput, payload.TokensOutput)
	}
}

func TestEventBusHandler_NoThreadID(t *testing.T) {
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	ch, cancel := bus.SubscribeChan(16, events.EventReasonerCall)
	defer cancel()

	handler := NewEventBusHandler(bus)
	handler.OnError(context.Background(), chatModelRunInfo("m"), context.DeadlineExceeded)

	e := waitEvent(t, ch)
	if e.ThreadID != "" {
		t.Fatalf("thread id = %q, want empty", e.ThreadID)
	}
	payload, _ := events.GetReasonerCallPayload(e)
	if payload.Phase != "error" || payload.Error == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
