package dispatch

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// widgetBinding ties a rendered widget back to the thread and task it
// shows so an inbound action can be routed without trusting the client.
type widgetBinding struct {
	threadID string
	kind     string
	taskID   int64 // 0 for list widgets; their actions carry task_id
}

// widgetRegistry keeps a bounded number of live bindings per thread.
// Old bindings are evicted oldest first; an action on an evicted widget
// is an invalid reference.
type widgetRegistry struct {
	mu        sync.Mutex
	byID      map[string]widgetBinding
	order     map[string][]string
	perThread int
}

func newWidgetRegistry(perThread int) *widgetRegistry {
	return &widgetRegistry{
		byID:      make(map[string]widgetBinding),
		order:     make(map[string][]string),
		perThread: perThread,
	}
}

func generateWidgetID() string {
	u := uuid.New().String()
	return "wg_" + strings.ReplaceAll(u[:13], "-", "")
}

func (w *widgetRegistry) bind(threadID, kind string, taskID int64) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := generateWidgetID()
	w.byID[id] = widgetBinding{threadID: threadID, kind: kind, taskID: taskID}
	w.order[threadID] = append(w.order[threadID], id)

	if len(w.order[threadID]) > w.perThread {
		evict := w.order[threadID][0]
		w.order[threadID] = w.order[threadID][1:]
		delete(w.byID, evict)
	}
	return id
}

func (w *widgetRegistry) lookup(id string) (widgetBinding, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.byID[id]
	return b, ok
}
