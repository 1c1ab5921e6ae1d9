// Package mentions tracks recently referenced tasks per thread so the
// dispatch engine can resolve anaphora like "mark that one done". The
// window is transient, per-thread state; losing it only degrades pronoun
// resolution, never direct commands.
package mentions

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrAmbiguous means more than one window entry plausibly matches.
	// Callers must ask for clarification instead of guessing.
	ErrAmbiguous = errors.New("reference is ambiguous")
	// ErrUnresolved means no window entry matches the phrase.
	ErrUnresolved = errors.New("reference not resolved")
)

// DefaultWindowSize bounds the per-thread reference window.
const DefaultWindowSize = 10

// Entry is one tracked task reference.
type Entry struct {
	TaskID    int64     `json:"task_id"`
	Title     string    `json:"title"`
	Operation string    `json:"operation"` // the operation that last touched it
	At        time.Time `json:"at"`
}

// Tracker keeps a bounded FIFO window of task references per thread.
// Windows are strictly isolated by thread id.
type Tracker struct {
	mu      sync.Mutex
	size    int
	windows map[string][]Entry
}

// NewTracker creates a tracker with the given window size per thread.
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Tracker{size: size, windows: make(map[string][]Entry)}
}

// Record notes that operation touched the task in the given thread.
// A task already present moves to the newest slot with updated metadata;
// otherwise the oldest entry is evicted once the window is full.
func (t *Tracker) Record(threadID string, taskID int64, title, operation string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.windows[threadID]

	for i, e := range window {
		if e.TaskID == taskID {
			window = append(window[:i], window[i+1:]...)
			break
		}
	}

	window = append(window, Entry{
		TaskID:    taskID,
		Title:     title,
		Operation: operation,
		At:        time.Now(),
	})

	if len(window) > t.size {
		window = window[len(window)-t.size:]
	}

	t.windows[threadID] = window
}

// Forget drops a task from the thread's window, e.g. after deletion.
func (t *Tracker) Forget(threadID string, taskID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.windows[threadID]
	for i, e := range window {
		if e.TaskID == taskID {
			t.windows[threadID] = append(window[:i], window[i+1:]...)
			return
		}
	}
}

// Window returns a snapshot of the thread's references, oldest first.
func (t *Tracker) Window(threadID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.windows[threadID]
	out := make([]Entry, len(window))
	copy(out, window)
	return out
}

var taskIDRe = regexp.MustCompile(`\b(?:task\s*#?|#)(\d+)\b|\b(\d+)\b`)

// Resolve maps a reference phrase to a single task id.
//
// Resolution order: an explicit numeric id in the phrase wins; then an
// exact title match against the window; then, for pronoun phrases, a
// single candidate filtered by the operation the phrase implies. More
// than one surviving candidate is ErrAmbiguous — never a silent pick.
func (t *Tracker) Resolve(threadID, phrase string) (int64, error) {
	lower := strings.ToLower(strings.TrimSpace(phrase))

	if id, ok := explicitID(lower); ok {
		return id, nil
	}

	t.mu.Lock()
	window := make([]Entry, len(t.windows[threadID]))
	copy(window, t.windows[threadID])
	t.mu.Unlock()

	if len(window) == 0 {
		return 0, ErrUnresolved
	}

	// Exact title match.
	var titleMatches []Entry
	for _, e := range window {
		if strings.Contains(lower, strings.ToLower(e.Title)) {
			titleMatches = append(titleMatches, e)
		}
	}
	switch len(titleMatches) {
	case 1:
		return titleMatches[0].TaskID, nil
	default:
		if len(titleMatches) > 1 {
			return 0, ErrAmbiguous
		}
	}

	if !hasPronoun(lower) {
		return 0, ErrUnresolved
	}

	candidates := window
	if implied := impliedOperation(lower); implied != "" {
		var filtered []Entry
		for _, e := range candidates {
			if e.Operation == implied {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	if len(candidates) == 1 {
		return candidates[0].TaskID, nil
	}
	return 0, ErrAmbiguous
}

// explicitID extracts a bare numeric task id from the phrase.
func explicitID(phrase string) (int64, bool) {
	m := taskIDRe.FindStringSubmatch(phrase)
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

var pronouns = []string{"it", "that", "this", "them", "the last one", "the one"}

func hasPronoun(phrase string) bool {
	for _, p := range pronouns {
		if containsWord(phrase, p) {
			return true
		}
	}
	return false
}

// impliedOperation guesses which past operation the phrase refers back to.
func impliedOperation(phrase string) string {
	switch {
	case containsAny(phrase, "just added", "just created", "new one", "added"):
		return "add_task"
	case containsAny(phrase, "completed", "finished", "done one"):
		return "complete_task"
	case containsAny(phrase, "renamed", "updated", "changed"):
		return "update_task"
	}
	return ""
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordChar(s[i-1])
		after := i+len(word) >= len(s) || !isWordChar(s[i+len(word)])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
