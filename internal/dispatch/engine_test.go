package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pmorel/tasktalk/internal/config"
	"github.com/pmorel/tasktalk/internal/events"
	"github.com/pmorel/tasktalk/internal/mentions"
	"github.com/pmorel/tasktalk/internal/ops"
	"github.com/pmorel/tasktalk/internal/reasoning"
	"github.com/pmorel/tasktalk/internal/taskstore"
	"github.com/pmorel/tasktalk/internal/threads"
)

// scriptReasoner replays canned decisions in order.
type scriptReasoner struct {
	decisions []*reasoning.Decision
	errs      []error
	block     chan struct{} // when set, Decide waits until closed

	mu    sync.Mutex
	calls int
}

func (s *scriptReasoner) Decide(ctx context.Context, in reasoning.Input) (*reasoning.Decision, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.decisions) {
		return s.decisions[i], nil
	}
	return &reasoning.Decision{ReplyText: "ok"}, nil
}

type fixture struct {
	engine   *Engine
	store    *threads.FileStore
	tasks    *taskstore.MemStore
	tracker  *mentions.Tracker
	reasoner *scriptReasoner
	bus      *events.Bus
}

func newFixture(t *testing.T, r *scriptReasoner) *fixture {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	f := &fixture{
		store:    threads.NewFileStore(t.TempDir()),
		tasks:    taskstore.NewMemStore(),
		tracker:  mentions.NewTracker(10),
		reasoner: r,
		bus:      bus,
	}
	cfg := config.DispatchConfig{StoreRetries: 3, TailMessages: 40}
	f.engine = New(cfg, f.store, f.tasks, ops.NewBuiltinRegistry(), f.reasoner, f.tracker, bus)
	f.engine.backoff = time.Millisecond
	return f
}

func proposal(op, args string) reasoning.Proposal {
	return reasoning.Proposal{Op: op, Args: json.RawMessage(args)}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("turn did not finish; events so far: %+v", got)
		}
	}
}

func terminal(evs []Event) Event {
	if len(evs) == 0 {
		return Event{}
	}
	return evs[len(evs)-1]
}

func TestAddTaskTurn(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		ReplyText: "Adding it now.",
		Proposals: []reasoning.Proposal{proposal(ops.OpAddTask, `{"title":"buy milk"}`)},
	}}})

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)

	if len(evs) != 3 {
		t.Fatalf("events = %d (%+v), want message, widget, completion", len(evs), evs)
	}
	if evs[0].Type != EventMessage || evs[0].Text != "Adding it now." {
		t.Errorf("first event = %+v", evs[0])
	}
	if evs[1].Type != EventWidget {
		t.Fatalf("second event = %+v, want widget", evs[1])
	}
	if evs[1].Widget.Kind != ops.WidgetTaskCard {
		t.Errorf("widget kind = %q", evs[1].Widget.Kind)
	}
	if evs[1].Widget.ID == "" || !strings.HasPrefix(evs[1].Widget.ID, "wg_") {
		t.Errorf("widget id = %q", evs[1].Widget.ID)
	}
	if terminal(evs).Type != EventCompletion {
		t.Errorf("terminal = %+v, want completion", terminal(evs))
	}

	// Turn durably recorded: user message plus assistant reply with result refs.
	msgs, err := f.store.Tail(th.ID, 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	last := msgs[1]
	if last.Role != threads.RoleAssistant {
		t.Errorf("last role = %q", last.Role)
	}
	if len(last.Results) != 1 || !last.Results[0].OK || last.Results[0].Operation != ops.OpAddTask {
		t.Errorf("result refs = %+v", last.Results)
	}
}

func TestAnaphoraMarkItDone(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{
		{Proposals: []reasoning.Proposal{proposal(ops.OpAddTask, `{"title":"buy milk"}`)}},
		{Proposals: []reasoning.Proposal{proposal(ops.OpCompleteTask, `{"task_ref":"it"}`)}},
	}})

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	collect(t, ch)

	_, ch, err = f.engine.HandleMessage(context.Background(), th.ID, "alice", "mark it done")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	evs := collect(t, ch)

	if terminal(evs).Type != EventCompletion {
		t.Fatalf("terminal = %+v", terminal(evs))
	}
	var widget *Event
	for i := range evs {
		if evs[i].Type == EventWidget {
			widget = &evs[i]
		}
	}
	if widget == nil {
		t.Fatalf("no widget event: %+v", evs)
	}
	if widget.Result == nil || widget.Result.Operation != ops.OpCompleteTask || !widget.Result.OK {
		t.Errorf("widget result = %+v", widget.Result)
	}

	task, err := f.tasks.Get(context.Background(), "alice", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !task.Done {
		t.Error("task not completed")
	}
}

func TestDeleteMissingTaskFailsInline(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		Proposals: []reasoning.Proposal{proposal(ops.OpDeleteTask, `{"task_id":42}`)},
	}}})

	_, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "delete task 42")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)

	if len(evs) != 2 {
		t.Fatalf("events = %+v, want failure message then completion", evs)
	}
	if evs[0].Type != EventMessage || evs[0].Result == nil {
		t.Fatalf("first event = %+v, want failure message", evs[0])
	}
	if evs[0].Result.ErrKind != ops.ErrKindNotFound {
		t.Errorf("err kind = %q, want %q", evs[0].Result.ErrKind, ops.ErrKindNotFound)
	}
	if terminal(evs).Type != EventCompletion {
		t.Errorf("terminal = %+v, want completion", terminal(evs))
	}
}

func TestCrossThreadActionInvalidReference(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		Proposals: []reasoning.Proposal{proposal(ops.OpAddTask, `{"title":"buy milk"}`)},
	}}})

	_, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)
	var widgetID string
	for _, ev := range evs {
		if ev.Type == EventWidget {
			widgetID = ev.Widget.ID
		}
	}
	if widgetID == "" {
		t.Fatal("no widget emitted")
	}

	other, err := f.store.Create("alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, _, err = f.engine.HandleAction(context.Background(), other.ID, "alice", widgetID, "complete", nil)
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference", err)
	}
}

func TestReasonerFailureEmitsSingleError(t *testing.T) {
	f := newFixture(t, &scriptReasoner{errs: []error{errors.New("deadline exceeded")}})

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)

	if len(evs) != 1 || evs[0].Type != EventError {
		t.Fatalf("events = %+v, want one error event", evs)
	}
	if evs[0].ErrKind != ops.ErrKindAdapterUnavailable {
		t.Errorf("err kind = %q", evs[0].ErrKind)
	}

	// The user message survives the failed turn.
	msgs, err := f.store.Tail(th.ID, 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != threads.RoleUser {
		t.Errorf("messages = %+v, want the user message only", msgs)
	}
}

func TestSecondMessageWhileBusyRejected(t *testing.T) {
	r := &scriptReasoner{block: make(chan struct{})}
	f := newFixture(t, r)

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	_, _, err = f.engine.HandleMessage(context.Background(), th.ID, "alice", "another one")
	if !errors.Is(err, ErrThreadBusy) {
		t.Fatalf("err = %v, want ErrThreadBusy", err)
	}

	close(r.block)
	collect(t, ch)

	// Idle again: the next message is accepted.
	_, ch, err = f.engine.HandleMessage(context.Background(), th.ID, "alice", "now it works")
	if err != nil {
		t.Fatalf("after turn: %v", err)
	}
	collect(t, ch)
}

func TestStoreRetryExhaustionFailsTurn(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		Proposals: []reasoning.Proposal{proposal(ops.OpAddTask, `{"title":"buy milk"}`)},
	}}})
	f.tasks.FailNext = 10

	_, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)

	if terminal(evs).Type != EventError {
		t.Fatalf("terminal = %+v, want error", terminal(evs))
	}
	if terminal(evs).ErrKind != ops.ErrKindStoreUnavailable {
		t.Errorf("err kind = %q", terminal(evs).ErrKind)
	}
}

func TestStoreRetryRecovers(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		Proposals: []reasoning.Proposal{proposal(ops.OpAddTask, `{"title":"buy milk"}`)},
	}}})
	f.tasks.FailNext = 2 // third attempt succeeds

	_, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)

	if terminal(evs).Type != EventCompletion {
		t.Fatalf("terminal = %+v, want completion", terminal(evs))
	}
}

func TestAmbiguousReferenceAsksInsteadOfGuessing(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{
		{Proposals: []reasoning.Proposal{
			proposal(ops.OpAddTask, `{"title":"call mom"}`),
			proposal(ops.OpAddTask, `{"title":"call dentist"}`),
		}},
		{Proposals: []reasoning.Proposal{proposal(ops.OpCompleteTask, `{"task_ref":"call"}`)}},
	}})

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add two calls")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	collect(t, ch)

	_, ch, err = f.engine.HandleMessage(context.Background(), th.ID, "alice", "finish the call one")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	evs := collect(t, ch)

	if terminal(evs).Type != EventCompletion {
		t.Fatalf("terminal = %+v, want completion after clarification", terminal(evs))
	}
	var clarified bool
	for _, ev := range evs {
		if ev.Type == EventMessage && strings.Contains(ev.Text, "which task") {
			clarified = true
		}
	}
	if !clarified {
		t.Errorf("no clarification message in %+v", evs)
	}

	// Neither task was guessed at.
	for _, id := range []int64{1, 2} {
		task, err := f.tasks.Get(context.Background(), "alice", id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if task.Done {
			t.Errorf("task %d was completed by a guess", id)
		}
	}
}

func TestWidgetActionCompletesTask(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		Proposals: []reasoning.Proposal{proposal(ops.OpAddTask, `{"title":"buy milk"}`)},
	}}})

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)
	var widgetID string
	for _, ev := range evs {
		if ev.Type == EventWidget {
			widgetID = ev.Widget.ID
		}
	}

	_, ch, err = f.engine.HandleAction(context.Background(), th.ID, "alice", widgetID, "complete", nil)
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	evs = collect(t, ch)

	if terminal(evs).Type != EventCompletion {
		t.Fatalf("terminal = %+v", terminal(evs))
	}
	task, err := f.tasks.Get(context.Background(), "alice", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !task.Done {
		t.Error("action did not complete the task")
	}
}

func TestUnknownActionTypeInvalidReference(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		Proposals: []reasoning.Proposal{proposal(ops.OpAddTask, `{"title":"buy milk"}`)},
	}}})

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add buy milk")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)
	var widgetID string
	for _, ev := range evs {
		if ev.Type == EventWidget {
			widgetID = ev.Widget.ID
		}
	}

	_, _, err = f.engine.HandleAction(context.Background(), th.ID, "alice", widgetID, "explode", nil)
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference", err)
	}
}

func TestThreadOwnershipEnforced(t *testing.T) {
	f := newFixture(t, &scriptReasoner{})

	th, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	collect(t, ch)

	_, _, err = f.engine.HandleMessage(context.Background(), th.ID, "mallory", "hi")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestParallelThreadsDoNotBlockEachOther(t *testing.T) {
	r := &scriptReasoner{block: make(chan struct{})}
	f := newFixture(t, r)

	_, ch1, err := f.engine.HandleMessage(context.Background(), "", "alice", "first")
	if err != nil {
		t.Fatalf("thread one: %v", err)
	}

	// A different thread dispatches while the first is still deciding.
	_, ch2, err := f.engine.HandleMessage(context.Background(), "", "bob", "second")
	if err != nil {
		t.Fatalf("thread two: %v", err)
	}

	close(r.block)
	collect(t, ch1)
	collect(t, ch2)
}

func TestProposalOrderPreserved(t *testing.T) {
	f := newFixture(t, &scriptReasoner{decisions: []*reasoning.Decision{{
		Proposals: []reasoning.Proposal{
			proposal(ops.OpAddTask, `{"title":"one"}`),
			proposal(ops.OpAddTask, `{"title":"two"}`),
			proposal(ops.OpAddTask, `{"title":"three"}`),
		},
	}}})

	_, ch, err := f.engine.HandleMessage(context.Background(), "", "alice", "add three tasks")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := collect(t, ch)

	var titles []string
	for _, ev := range evs {
		if ev.Type == EventWidget {
			titles = append(titles, ev.Result.Tasks[0].Title)
		}
	}
	want := []string{"one", "two", "three"}
	if len(titles) != len(want) {
		t.Fatalf("widgets = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("widget %d = %q, want %q", i, titles[i], want[i])
		}
	}
}
