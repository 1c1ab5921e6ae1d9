package ops

import (
	"context"
	"testing"

	"github.com/pmorel/tasktalk/internal/taskstore"
)

func run(t *testing.T, store taskstore.Adapter, op string, args map[string]any) (*Result, error) {
	t.Helper()
	r := NewBuiltinRegistry()
	spec, err := r.Lookup(op)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", op, err)
	}
	return spec.Handler(context.Background(), "u_alice", args, store)
}

func TestAddTask(t *testing.T) {
	store := taskstore.NewMemStore()

	res, err := run(t, store, OpAddTask, map[string]any{"title": "buy milk"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.OK {
		t.Fatalf("res = %+v", res)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].Title != "buy milk" {
		t.Errorf("Tasks = %+v", res.Tasks)
	}
}

func TestAddTaskBlankTitle(t *testing.T) {
	store := taskstore.NewMemStore()

	res, err := run(t, store, OpAddTask, map[string]any{"title": "   "})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.OK || res.ErrKind != ErrKindInvalidArguments {
		t.Errorf("res = %+v, want invalid_arguments failure", res)
	}
}

func TestCompleteTaskNotFound(t *testing.T) {
	store := taskstore.NewMemStore()

	res, err := run(t, store, OpCompleteTask, map[string]any{"task_id": float64(999)})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.OK || res.ErrKind != ErrKindNotFound {
		t.Errorf("res = %+v, want not_found failure", res)
	}
}

func TestCompleteTaskTwice(t *testing.T) {
	store := taskstore.NewMemStore()
	created, _ := store.Create(context.Background(), "u_alice", "water plants", "")

	args := map[string]any{"task_id": float64(created.ID)}
	first, err := run(t, store, OpCompleteTask, args)
	if err != nil || !first.OK {
		t.Fatalf("first = %+v, %v", first, err)
	}

	second, err := run(t, store, OpCompleteTask, args)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.OK {
		t.Errorf("second complete must succeed, got %+v", second)
	}
	if !second.Tasks[0].CompletedAt.Equal(*first.Tasks[0].CompletedAt) {
		t.Error("second complete must not change state")
	}
}

func TestDeleteTaskCarriesTitle(t *testing.T) {
	store := taskstore.NewMemStore()
	created, _ := store.Create(context.Background(), "u_alice", "old chore", "")

	res, err := run(t, store, OpDeleteTask, map[string]any{"task_id": float64(created.ID)})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.OK || len(res.Tasks) != 1 || res.Tasks[0].Title != "old chore" {
		t.Errorf("res = %+v", res)
	}
}

func TestUpdateTaskRequiresAField(t *testing.T) {
	store := taskstore.NewMemStore()
	created, _ := store.Create(context.Background(), "u_alice", "x", "")

	res, err := run(t, store, OpUpdateTask, map[string]any{"task_id": float64(created.ID)})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.OK || res.ErrKind != ErrKindInvalidArguments {
		t.Errorf("res = %+v", res)
	}
}

func TestListTasks(t *testing.T) {
	store := taskstore.NewMemStore()
	ctx := context.Background()
	store.Create(ctx, "u_alice", "one", "")
	done, _ := store.Create(ctx, "u_alice", "two", "")
	store.Complete(ctx, "u_alice", done.ID)
	store.Create(ctx, "u_bob", "not mine", "")

	res, err := run(t, store, OpListTasks, map[string]any{})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(res.Tasks) != 1 || res.Tasks[0].Title != "one" {
		t.Errorf("open tasks = %+v", res.Tasks)
	}

	res, _ = run(t, store, OpListTasks, map[string]any{"include_done": true})
	if len(res.Tasks) != 2 {
		t.Errorf("all tasks = %d, want 2", len(res.Tasks))
	}
}

func TestStoreFailurePropagatesAsError(t *testing.T) {
	store := taskstore.NewMemStore()
	store.FailNext = 1

	_, err := run(t, store, OpAddTask, map[string]any{"title": "x"})
	if err == nil {
		t.Fatal("expected retryable error from unavailable store")
	}
}
