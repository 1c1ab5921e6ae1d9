package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmorel/tasktalk/internal/ops"
	"github.com/pmorel/tasktalk/internal/taskstore"
)

// widgetPayload builds the renderable view of a result. Widgets are a
// projection; the task store stays the source of truth.
func widgetPayload(kind string, res *ops.Result) (json.RawMessage, error) {
	switch kind {
	case ops.WidgetTaskCard:
		var task *taskstore.Task
		if len(res.Tasks) > 0 {
			task = res.Tasks[0]
		}
		return json.Marshal(map[string]any{
			"operation": res.Operation,
			"task":      task,
		})
	case ops.WidgetTaskList:
		return json.Marshal(map[string]any{
			"tasks": res.Tasks,
			"count": len(res.Tasks),
		})
	default:
		return nil, fmt.Errorf("unknown widget kind %q", kind)
	}
}

// widgetTaskID picks the task a card widget is bound to. List widgets
// bind to no single task; their actions carry the id.
func widgetTaskID(kind string, res *ops.Result) int64 {
	if kind == ops.WidgetTaskCard && len(res.Tasks) > 0 {
		return res.Tasks[0].ID
	}
	return 0
}

// summarize produces the assistant reply when the reasoner gave none,
// e.g. on action turns.
func summarize(results []*ops.Result) string {
	if len(results) == 0 {
		return "Nothing to do."
	}

	var parts []string
	for _, res := range results {
		if !res.OK {
			parts = append(parts, failureText(res))
			continue
		}
		switch res.Operation {
		case ops.OpAddTask:
			for _, task := range res.Tasks {
				parts = append(parts, fmt.Sprintf("Added %q (task %d).", task.Title, task.ID))
			}
		case ops.OpCompleteTask:
			for _, task := range res.Tasks {
				parts = append(parts, fmt.Sprintf("Marked %q as done.", task.Title))
			}
		case ops.OpDeleteTask:
			for _, task := range res.Tasks {
				parts = append(parts, fmt.Sprintf("Deleted %q.", task.Title))
			}
		case ops.OpUpdateTask:
			for _, task := range res.Tasks {
				parts = append(parts, fmt.Sprintf("Updated %q.", task.Title))
			}
		case ops.OpListTasks:
			parts = append(parts, fmt.Sprintf("You have %d task(s).", len(res.Tasks)))
		default:
			parts = append(parts, "Done.")
		}
	}
	return strings.Join(parts, " ")
}

func failureText(res *ops.Result) string {
	verb := map[string]string{
		ops.OpAddTask:      "add the task",
		ops.OpListTasks:    "list your tasks",
		ops.OpCompleteTask: "complete the task",
		ops.OpDeleteTask:   "delete the task",
		ops.OpUpdateTask:   "update the task",
	}[res.Operation]
	if verb == "" {
		verb = "run " + res.Operation
	}
	if res.ErrMsg != "" {
		return fmt.Sprintf("I couldn't %s: %s.", verb, res.ErrMsg)
	}
	return fmt.Sprintf("I couldn't %s.", verb)
}
