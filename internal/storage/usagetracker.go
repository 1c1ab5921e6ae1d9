package storage

import (
	"log/slog"
	"sync"

	"github.com/pmorel/tasktalk/internal/events"
	"github.com/pmorel/tasktalk/internal/threads"
)

// UsageTracker subscribes to reasoner call events and accumulates token
// usage into the owning thread's metadata.
type UsageTracker struct {
	mu          sync.Mutex
	bus         *events.Bus
	store       threads.Store
	unsubscribe func()
}

// NewUsageTracker creates a UsageTracker that listens for reasoner responses.
func NewUsageTracker(bus *events.Bus, store threads.Store) *UsageTracker {
	ut := &UsageTracker{
		bus:   bus,
		store: store,
	}
	ut.unsubscribe = bus.Subscribe(ut.handleEvent, events.EventReasonerCall)
	return ut
}

// Close unsubscribes the tracker from the event bus.
func (ut *UsageTracker) Close() {
	if ut.unsubscribe != nil {
		ut.unsubscribe()
	}
}

func (ut *UsageTracker) handleEvent(e events.Event) {
	if e.ThreadID == "" {
		return
	}

	payload, ok := events.GetReasonerCallPayload(e)
	if !ok {
		return
	}

	if payload.Phase != "response" {
		return
	}

	if payload.TokensInput == 0 && payload.TokensOutput == 0 {
		return
	}

	ut.mu.Lock()
	defer ut.mu.Unlock()

	th, err := ut.store.Get(e.ThreadID)
	if err != nil {
		slog.Debug("usage tracker: thread not found", "thread_id", e.ThreadID, "error", err)
		return
	}

	th.TokenUsage.Input += payload.TokensInput
	th.TokenUsage.Output += payload.TokensOutput

	if err := ut.store.UpdateMeta(th); err != nil {
		slog.Error("usage tracker: update meta", "thread_id", e.ThreadID, "error", err)
	}
}
