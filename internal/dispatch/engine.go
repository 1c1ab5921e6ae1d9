// Package dispatch runs conversation turns: it routes inbound messages
// and widget actions through the reasoner and the operation registry and
// streams an ordered sequence of events back to the caller.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmorel/tasktalk/internal/config"
	"github.com/pmorel/tasktalk/internal/events"
	"github.com/pmorel/tasktalk/internal/mentions"
	"github.com/pmorel/tasktalk/internal/ops"
	"github.com/pmorel/tasktalk/internal/reasoning"
	"github.com/pmorel/tasktalk/internal/taskstore"
	"github.com/pmorel/tasktalk/internal/threads"
)

var (
	// ErrThreadBusy is returned while a turn is already in flight on the
	// thread. Turns never interleave; callers retry after the turn ends.
	ErrThreadBusy = errors.New("thread busy")

	// ErrUnauthorized is returned when the caller does not own the thread.
	ErrUnauthorized = errors.New("thread owned by another user")

	// ErrInvalidReference is returned when a widget action does not
	// resolve to exactly one operation invocation.
	ErrInvalidReference = errors.New("action does not resolve to an operation")
)

const maxWidgetsPerThread = 32

// Engine coordinates one turn at a time per thread. Distinct threads run
// fully in parallel.
type Engine struct {
	cfg      config.DispatchConfig
	store    threads.Store
	tasks    taskstore.Adapter
	registry *ops.Registry
	reasoner reasoning.Reasoner
	tracker  *mentions.Tracker
	bus      *events.Bus
	widgets  *widgetRegistry

	// backoff is the base delay between store retries.
	backoff time.Duration

	mu   sync.Mutex
	busy map[string]bool
}

// New creates a dispatch engine.
func New(cfg config.DispatchConfig, store threads.Store, tasks taskstore.Adapter, registry *ops.Registry, reasoner reasoning.Reasoner, tracker *mentions.Tracker, bus *events.Bus) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		tasks:    tasks,
		registry: registry,
		reasoner: reasoner,
		tracker:  tracker,
		bus:      bus,
		widgets:  newWidgetRegistry(maxWidgetsPerThread),
		backoff:  100 * time.Millisecond,
		busy:     make(map[string]bool),
	}
}

func (e *Engine) acquire(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[threadID] {
		return false
	}
	e.busy[threadID] = true
	return true
}

func (e *Engine) release(threadID string) {
	e.mu.Lock()
	delete(e.busy, threadID)
	e.mu.Unlock()
}

func generateInvocationID() string {
	u := uuid.New().String()
	return "inv_" + strings.ReplaceAll(u[:13], "-", "")
}

func generateActionID() string {
	u := uuid.New().String()
	return "act_" + strings.ReplaceAll(u[:13], "-", "")
}

// HandleMessage starts a turn for a free-text user message. An empty
// threadID creates a new thread owned by userID. The returned channel
// carries the turn's events in order and is closed after the terminal
// event. ctx governs event delivery only; store work started by the turn
// runs to completion even if the caller goes away.
func (e *Engine) HandleMessage(ctx context.Context, threadID, userID, text string) (*threads.Thread, <-chan Event, error) {
	th, err := e.resolveThread(threadID, userID)
	if err != nil {
		return nil, nil, err
	}

	if !e.acquire(th.ID) {
		return th, nil, ErrThreadBusy
	}

	// History snapshot excludes the utterance being handled.
	tail, err := e.store.Tail(th.ID, e.cfg.TailMessages)
	if err != nil {
		e.release(th.ID)
		return th, nil, fmt.Errorf("read thread tail: %w", err)
	}

	if _, err := e.store.Append(th.ID, threads.Message{Role: threads.RoleUser, Content: text}); err != nil {
		e.release(th.ID)
		return th, nil, fmt.Errorf("append user message: %w", err)
	}

	e.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.MessageReceivedPayload{
		ThreadID: th.ID,
		UserID:   userID,
		Text:     text,
	}, th.ID))

	t := &turn{
		engine:  e,
		thread:  th,
		userID:  userID,
		deliver: ctx,
		work:    context.WithoutCancel(ctx),
		out:     make(chan Event, 16),
	}
	go t.runMessage(text, tail)
	return th, t.out, nil
}

// HandleAction starts a turn for a widget action. The widget must belong
// to the thread and the action must map to exactly one operation.
func (e *Engine) HandleAction(ctx context.Context, threadID, userID, widgetID, actionType string, payload json.RawMessage) (*threads.Thread, <-chan Event, error) {
	th, err := e.resolveThread(threadID, userID)
	if err != nil {
		return nil, nil, err
	}

	op, args, err := e.resolveAction(th.ID, widgetID, actionType, payload)
	if err != nil {
		return th, nil, err
	}

	if !e.acquire(th.ID) {
		return th, nil, ErrThreadBusy
	}

	actionID := generateActionID()
	if _, err := e.store.Append(th.ID, threads.Message{
		Role:     threads.RoleUser,
		Content:  actionType,
		ActionID: actionID,
	}); err != nil {
		e.release(th.ID)
		return th, nil, fmt.Errorf("append action message: %w", err)
	}

	e.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.ActionReceivedPayload{
		ThreadID: th.ID,
		UserID:   userID,
		WidgetID: widgetID,
		Type:     actionType,
		Payload:  payload,
	}, th.ID))

	t := &turn{
		engine:  e,
		thread:  th,
		userID:  userID,
		deliver: ctx,
		work:    context.WithoutCancel(ctx),
		out:     make(chan Event, 16),
	}
	go t.runAction(op, args)
	return th, t.out, nil
}

func (e *Engine) resolveThread(threadID, userID string) (*threads.Thread, error) {
	if threadID == "" {
		th, err := e.store.Create(userID)
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		e.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.ThreadCreatedPayload{
			ThreadID: th.ID,
			UserID:   userID,
		}, th.ID))
		return th, nil
	}

	th, err := e.store.Get(threadID)
	if err != nil {
		return nil, err
	}
	if th.UserID != userID {
		return nil, ErrUnauthorized
	}
	return th, nil
}

// resolveAction maps a widget action onto one operation invocation.
func (e *Engine) resolveAction(threadID, widgetID, actionType string, payload json.RawMessage) (string, map[string]any, error) {
	binding, ok := e.widgets.lookup(widgetID)
	if !ok || binding.threadID != threadID {
		return "", nil, ErrInvalidReference
	}

	var body struct {
		TaskID int64   `json:"task_id"`
		Title  *string `json:"title"`
		Notes  *string `json:"notes"`
		Done   *bool   `json:"done"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", nil, ErrInvalidReference
		}
	}

	taskID := binding.taskID
	if taskID == 0 {
		taskID = body.TaskID
	}

	switch actionType {
	case "complete":
		if taskID == 0 {
			return "", nil, ErrInvalidReference
		}
		return ops.OpCompleteTask, map[string]any{"task_id": float64(taskID)}, nil
	case "delete":
		if taskID == 0 {
			return "", nil, ErrInvalidReference
		}
		return ops.OpDeleteTask, map[string]any{"task_id": float64(taskID)}, nil
	case "update":
		if taskID == 0 {
			return "", nil, ErrInvalidReference
		}
		args := map[string]any{"task_id": float64(taskID)}
		if body.Title != nil {
			args["title"] = *body.Title
		}
		if body.Notes != nil {
			args["notes"] = *body.Notes
		}
		if body.Done != nil {
			args["done"] = *body.Done
		}
		return ops.OpUpdateTask, args, nil
	case "refresh":
		return ops.OpListTasks, map[string]any{}, nil
	default:
		return "", nil, ErrInvalidReference
	}
}

// turn is the state of one in-flight turn.
type turn struct {
	engine  *Engine
	thread  *threads.Thread
	userID  string
	deliver context.Context
	work    context.Context
	out     chan Event
	results []threads.ResultRef

	// clarifyText holds a clarification question emitted during the
	// turn so it can double as the logged assistant reply.
	clarifyText string
}

// send delivers one event in order. When the consumer is gone the event
// is dropped but the turn's store work continues.
func (t *turn) send(ev Event) {
	ev.ThreadID = t.thread.ID
	select {
	case t.out <- ev:
	case <-t.deliver.Done():
	}
}

func (t *turn) finish() {
	t.engine.release(t.thread.ID)
	close(t.out)
}

func (t *turn) fail(kind ops.ErrKind, msg string) {
	t.engine.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.TurnErrorPayload{
		Kind:   string(kind),
		Reason: msg,
	}, t.thread.ID))
	t.send(Event{Type: EventError, ErrKind: kind, ErrMsg: msg})
}

func (t *turn) complete() {
	t.engine.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.TurnCompletionPayload{}, t.thread.ID))
	t.send(Event{Type: EventCompletion})
}

func (t *turn) message(text string) {
	t.engine.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.TurnMessagePayload{
		Content: text,
	}, t.thread.ID))
	t.send(Event{Type: EventMessage, Text: text})
}

// runMessage is the free-text turn: decide, execute, reply.
func (t *turn) runMessage(text string, tail []threads.Message) {
	defer t.finish()
	e := t.engine

	in := reasoning.Input{
		UserID:   t.userID,
		Text:     text,
		History:  tail,
		Mentions: e.tracker.Window(t.thread.ID),
	}

	start := time.Now()
	e.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.ReasonerCallPayload{
		Phase:        "start",
		MessageCount: len(tail) + 1,
	}, t.thread.ID))

	decision, err := e.reasoner.Decide(events.ContextWithThreadID(t.work, t.thread.ID), in)

	endPayload := events.ReasonerCallPayload{Phase: "end", Duration: time.Since(start)}
	if err != nil {
		endPayload.Error = err.Error()
	} else {
		endPayload.Proposals = len(decision.Proposals)
	}
	e.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, endPayload, t.thread.ID))

	if err != nil {
		slog.Error("reasoner failed", "thread", t.thread.ID, "error", err)
		t.fail(ops.ErrKindAdapterUnavailable, "the assistant is unavailable right now")
		return
	}

	if decision.ReplyText != "" {
		t.message(decision.ReplyText)
	}

	var outcomes []*ops.Result
	for _, p := range decision.Proposals {
		res, terminal := t.executeProposal(p)
		if terminal {
			return
		}
		if res != nil {
			outcomes = append(outcomes, res)
		}
	}

	content := decision.ReplyText
	if content == "" {
		content = t.clarifyText
	}
	if content == "" {
		content = summarize(outcomes)
	}
	if !t.appendAssistant(content) {
		return
	}
	t.complete()
}

// runAction is the widget-action turn: no reasoning, one invocation.
func (t *turn) runAction(op string, args map[string]any) {
	defer t.finish()

	raw, err := json.Marshal(args)
	if err != nil {
		t.fail(ops.ErrKindInvalidArguments, err.Error())
		return
	}

	res, terminal := t.executeProposal(reasoning.Proposal{Op: op, Args: raw})
	if terminal {
		return
	}

	var content string
	if res != nil {
		content = summarize([]*ops.Result{res})
	}
	if !t.appendAssistant(content) {
		return
	}
	t.complete()
}

// executeProposal runs one proposal end to end. It returns the result for
// reply synthesis (nil when the proposal never executed) and whether the
// turn must stop with the terminal error already emitted.
func (t *turn) executeProposal(p reasoning.Proposal) (*ops.Result, bool) {
	e := t.engine
	invID := generateInvocationID()

	spec, err := e.registry.Lookup(p.Op)
	if err != nil {
		t.reportFailure(invID, ops.FailureResult(p.Op, ops.ErrKindInvalidArguments, "unknown operation"))
		return nil, false
	}

	args, err := ops.ValidateArgs(spec, p.Args)
	if err != nil {
		t.reportFailure(invID, ops.FailureResult(p.Op, ops.ErrKindInvalidArguments, err.Error()))
		return nil, false
	}

	if stop := t.resolveTaskRef(spec, invID, args); stop {
		return nil, false
	}

	res, err := e.executeWithRetry(t.work, t.userID, spec, args)
	if err != nil {
		slog.Error("operation failed", "thread", t.thread.ID, "op", p.Op, "invocation", invID, "error", err)
		t.results = append(t.results, threads.ResultRef{Operation: p.Op, ErrKind: string(ops.ErrKindStoreUnavailable)})
		// Best effort: keep what already succeeded in the log. Exactly
		// one terminal error is emitted either way.
		if t.appendAssistant("Something went wrong talking to the task store.") {
			t.fail(ops.ErrKindStoreUnavailable, "task store unavailable")
		}
		return nil, true
	}

	t.results = append(t.results, threads.ResultRef{
		Operation: res.Operation,
		OK:        res.OK,
		ErrKind:   string(res.ErrKind),
		TaskIDs:   res.TaskIDs(),
	})

	if !res.OK {
		t.reportFailure(invID, res)
		return res, false
	}

	t.trackResult(res)

	if spec.WidgetKind != "" {
		t.emitWidget(invID, spec.WidgetKind, res)
	}
	return res, false
}

// resolveTaskRef turns a task_ref phrase into a concrete task_id using
// the thread's recent-mention window. Reported outcomes never stop the
// turn; the proposal is simply skipped.
func (t *turn) resolveTaskRef(spec *ops.OperationSpec, invID string, args map[string]any) (skip bool) {
	if _, ok := spec.Parameters["task_ref"]; !ok {
		return false
	}
	if _, ok := ops.IntArg(args, "task_id"); ok {
		return false
	}
	ref := ops.StringArg(args, "task_ref")
	if ref == "" {
		return false
	}

	id, err := t.engine.tracker.Resolve(t.thread.ID, ref)
	switch {
	case err == nil:
		args["task_id"] = float64(id)
		return false
	case errors.Is(err, mentions.ErrAmbiguous):
		t.clarify(spec.Name, ref)
		return true
	default:
		t.reportFailure(invID, ops.FailureResult(spec.Name, ops.ErrKindInvalidReference,
			fmt.Sprintf("no recently discussed task matches %q", ref)))
		return true
	}
}

// clarify asks the user to pick a task instead of guessing.
func (t *turn) clarify(op, ref string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I'm not sure which task you mean by %q.", ref)
	if win := t.engine.tracker.Window(t.thread.ID); len(win) > 0 {
		sb.WriteString(" Recently discussed:")
		for i := len(win) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, "\n- task %d: %s", win[i].TaskID, win[i].Title)
		}
	}
	sb.WriteString("\nPlease tell me the task number.")

	t.results = append(t.results, threads.ResultRef{Operation: op, ErrKind: string(ops.ErrKindAmbiguous)})
	t.clarifyText = sb.String()
	t.message(t.clarifyText)
}

func (t *turn) reportFailure(invID string, res *ops.Result) {
	t.results = append(t.results, threads.ResultRef{
		Operation: res.Operation,
		ErrKind:   string(res.ErrKind),
	})
	t.engine.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.TurnMessagePayload{
		Content: failureText(res),
	}, t.thread.ID))
	t.send(Event{
		Type:         EventMessage,
		InvocationID: invID,
		Text:         failureText(res),
		Result:       res,
	})
}

func (t *turn) emitWidget(invID, kind string, res *ops.Result) {
	payload, err := widgetPayload(kind, res)
	if err != nil {
		slog.Warn("widget payload", "kind", kind, "error", err)
		return
	}
	w := &events.Widget{
		ID:      t.engine.widgets.bind(t.thread.ID, kind, widgetTaskID(kind, res)),
		Kind:    kind,
		Payload: payload,
	}
	t.engine.bus.Publish(events.NewTypedEventForThread(events.SourceDispatch, events.TurnWidgetPayload{
		Widget: *w,
	}, t.thread.ID))
	t.send(Event{Type: EventWidget, InvocationID: invID, Widget: w, Result: res})
}

// appendAssistant persists the assistant turn. On failure the terminal
// error is emitted and false returned.
func (t *turn) appendAssistant(content string) bool {
	msg := threads.Message{
		Role:    threads.RoleAssistant,
		Content: content,
		Results: t.results,
	}
	if _, err := t.engine.store.Append(t.thread.ID, msg); err != nil {
		slog.Error("append assistant message", "thread", t.thread.ID, "error", err)
		t.fail(ops.ErrKindStoreUnavailable, "thread log unavailable")
		return false
	}
	return true
}

// executeWithRetry runs the handler, retrying store outages with a
// bounded backoff. Reportable failures come back inside the result.
func (e *Engine) executeWithRetry(ctx context.Context, userID string, spec *ops.OperationSpec, args map[string]any) (*ops.Result, error) {
	attempts := e.cfg.StoreRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(e.backoff * time.Duration(i)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		opCtx := ctx
		var cancel context.CancelFunc
		if d := e.cfg.ExecuteTimeout.Duration(); d > 0 {
			opCtx, cancel = context.WithTimeout(ctx, d)
		}
		res, err := spec.Handler(opCtx, userID, args, e.tasks)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, taskstore.ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// trackResult records successful outcomes in the mention window so later
// turns can resolve "it" and friends.
func (t *turn) trackResult(res *ops.Result) {
	switch res.Operation {
	case ops.OpDeleteTask:
		for _, task := range res.Tasks {
			t.engine.tracker.Forget(t.thread.ID, task.ID)
		}
	case ops.OpListTasks:
		// Listing does not make every task "discussed".
	default:
		for _, task := range res.Tasks {
			t.engine.tracker.Record(t.thread.ID, task.ID, task.Title, res.Operation)
		}
	}
}
