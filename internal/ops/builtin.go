package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pmorel/tasktalk/internal/taskstore"
)

// Widget kinds produced by the built-in operations.
const (
	WidgetTaskCard = "task_card"
	WidgetTaskList = "task_list"
)

// Builtin operation names.
const (
	OpAddTask      = "add_task"
	OpListTasks    = "list_tasks"
	OpCompleteTask = "complete_task"
	OpDeleteTask   = "delete_task"
	OpUpdateTask   = "update_task"
)

// NewBuiltinRegistry returns a registry with the five task operations.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range []*OperationSpec{
		addTaskSpec(),
		listTasksSpec(),
		completeTaskSpec(),
		deleteTaskSpec(),
		updateTaskSpec(),
	} {
		// Registration of the fixed set cannot collide.
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
	return r
}

func addTaskSpec() *OperationSpec {
	return &OperationSpec{
		Name:        OpAddTask,
		Description: "Add a new task to the user's todo list.",
		WidgetKind:  WidgetTaskCard,
		Parameters: map[string]ParamSpec{
			"title": {
				Type:        "string",
				Description: "Short title of the task, e.g. \"buy milk\"",
				Required:    true,
			},
			"notes": {
				Type:        "string",
				Description: "Optional free-form notes",
			},
		},
		Handler: handleAddTask,
	}
}

func handleAddTask(ctx context.Context, userID string, args map[string]any, store taskstore.Adapter) (*Result, error) {
	title := strings.TrimSpace(StringArg(args, "title"))
	if title == "" {
		return FailureResult(OpAddTask, ErrKindInvalidArguments, "title must not be empty"), nil
	}

	task, err := store.Create(ctx, userID, title, StringArg(args, "notes"))
	if err != nil {
		return nil, fmt.Errorf("add_task: %w", err)
	}

	return &Result{Operation: OpAddTask, OK: true, Tasks: []*taskstore.Task{task}}, nil
}

func listTasksSpec() *OperationSpec {
	return &OperationSpec{
		Name:        OpListTasks,
		Description: "List the user's tasks. By default only open tasks are returned.",
		WidgetKind:  WidgetTaskList,
		Parameters: map[string]ParamSpec{
			"include_done": {
				Type:        "boolean",
				Description: "Include completed tasks in the listing",
			},
		},
		Handler: handleListTasks,
	}
}

func handleListTasks(ctx context.Context, userID string, args map[string]any, store taskstore.Adapter) (*Result, error) {
	includeDone, _ := BoolArg(args, "include_done")

	tasks, err := store.List(ctx, userID, includeDone)
	if err != nil {
		return nil, fmt.Errorf("list_tasks: %w", err)
	}

	return &Result{Operation: OpListTasks, OK: true, Tasks: tasks}, nil
}

func completeTaskSpec() *OperationSpec {
	return &OperationSpec{
		Name:        OpCompleteTask,
		Description: "Mark a task as done. Completing an already-done task is a no-op success.",
		WidgetKind:  WidgetTaskCard,
		Parameters: map[string]ParamSpec{
			"task_id": {
				Type:        "integer",
				Description: "Numeric id of the task to complete; preferred when known",
			},
			"task_ref": {
				Type:        "string",
				Description: "Reference phrase such as \"it\" or a task title, resolved against recently discussed tasks",
			},
		},
		Handler: handleCompleteTask,
	}
}

func handleCompleteTask(ctx context.Context, userID string, args map[string]any, store taskstore.Adapter) (*Result, error) {
	id, ok := IntArg(args, "task_id")
	if !ok {
		return FailureResult(OpCompleteTask, ErrKindInvalidArguments, "task_id is required"), nil
	}

	task, err := store.Complete(ctx, userID, id)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return FailureResult(OpCompleteTask, ErrKindNotFound, fmt.Sprintf("task %d does not exist", id)), nil
		}
		return nil, fmt.Errorf("complete_task: %w", err)
	}

	return &Result{Operation: OpCompleteTask, OK: true, Tasks: []*taskstore.Task{task}}, nil
}

func deleteTaskSpec() *OperationSpec {
	return &OperationSpec{
		Name:        OpDeleteTask,
		Description: "Delete a task permanently.",
		WidgetKind:  WidgetTaskCard,
		Parameters: map[string]ParamSpec{
			"task_id": {
				Type:        "integer",
				Description: "Numeric id of the task to delete; preferred when known",
			},
			"task_ref": {
				Type:        "string",
				Description: "Reference phrase such as \"it\" or a task title, resolved against recently discussed tasks",
			},
		},
		Handler: handleDeleteTask,
	}
}

func handleDeleteTask(ctx context.Context, userID string, args map[string]any, store taskstore.Adapter) (*Result, error) {
	id, ok := IntArg(args, "task_id")
	if !ok {
		return FailureResult(OpDeleteTask, ErrKindInvalidArguments, "task_id is required"), nil
	}

	// Fetch first so the result can still carry the deleted task's title.
	task, err := store.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return FailureResult(OpDeleteTask, ErrKindNotFound, fmt.Sprintf("task %d does not exist", id)), nil
		}
		return nil, fmt.Errorf("delete_task: %w", err)
	}

	if err := store.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			// Deleted between Get and Delete; deletion is idempotent.
			return &Result{Operation: OpDeleteTask, OK: true, Tasks: []*taskstore.Task{task}}, nil
		}
		return nil, fmt.Errorf("delete_task: %w", err)
	}

	return &Result{Operation: OpDeleteTask, OK: true, Tasks: []*taskstore.Task{task}}, nil
}

func updateTaskSpec() *OperationSpec {
	return &OperationSpec{
		Name:        OpUpdateTask,
		Description: "Update a task's title, notes, or done state. Only provided fields change.",
		WidgetKind:  WidgetTaskCard,
		Parameters: map[string]ParamSpec{
			"task_id": {
				Type:        "integer",
				Description: "Numeric id of the task to update; preferred when known",
			},
			"task_ref": {
				Type:        "string",
				Description: "Reference phrase such as \"it\" or a task title, resolved against recently discussed tasks",
			},
			"title": {
				Type:        "string",
				Description: "New title",
			},
			"notes": {
				Type:        "string",
				Description: "New notes",
			},
			"done": {
				Type:        "boolean",
				Description: "New done state",
			},
		},
		Handler: handleUpdateTask,
	}
}

func handleUpdateTask(ctx context.Context, userID string, args map[string]any, store taskstore.Adapter) (*Result, error) {
	id, ok := IntArg(args, "task_id")
	if !ok {
		return FailureResult(OpUpdateTask, ErrKindInvalidArguments, "task_id is required"), nil
	}

	var upd taskstore.Update
	changed := false
	if v, ok := args["title"].(string); ok {
		if strings.TrimSpace(v) == "" {
			return FailureResult(OpUpdateTask, ErrKindInvalidArguments, "title must not be empty"), nil
		}
		upd.Title = &v
		changed = true
	}
	if v, ok := args["notes"].(string); ok {
		upd.Notes = &v
		changed = true
	}
	if v, ok := args["done"].(bool); ok {
		upd.Done = &v
		changed = true
	}
	if !changed {
		return FailureResult(OpUpdateTask, ErrKindInvalidArguments, "at least one of title, notes, done is required"), nil
	}

	task, err := store.Update(ctx, userID, id, upd)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return FailureResult(OpUpdateTask, ErrKindNotFound, fmt.Sprintf("task %d does not exist", id)), nil
		}
		return nil, fmt.Errorf("update_task: %w", err)
	}

	return &Result{Operation: OpUpdateTask, OK: true, Tasks: []*taskstore.Task{task}}, nil
}
