// Package threads provides the conversation thread and message log.
package threads

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a thread id does not exist.
	ErrNotFound = errors.New("thread not found")
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TokenUsage accumulates reasoning token spend across a thread's turns.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Thread identifies one conversation. Threads are created on the first
// message from a user and are never hard-deleted by the core.
type Thread struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MessageCount int        `json:"message_count"`
	TokenUsage   TokenUsage `json:"token_usage"`
}

// Message is one immutable turn in a thread. Insertion order is the sole
// source of truth for conversation history.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	// ActionID links an action-only turn to the inbound action that produced it.
	ActionID string `json:"action_id,omitempty"`
	// Results summarizes the operation outcomes attached to an assistant turn.
	Results []ResultRef `json:"results,omitempty"`
}

// ResultRef is a durable pointer from a message to one operation outcome.
type ResultRef struct {
	Operation string  `json:"operation"`
	OK        bool    `json:"ok"`
	ErrKind   string  `json:"err_kind,omitempty"`
	TaskIDs   []int64 `json:"task_ids,omitempty"`
}

// Store defines the persistence interface for threads.
type Store interface {
	Create(userID string) (*Thread, error)
	Get(id string) (*Thread, error)
	List() ([]*Thread, error)
	UpdateMeta(t *Thread) error
	// Append assigns the message an id and a strictly increasing timestamp,
	// then appends it to the thread's log.
	Append(threadID string, msg Message) (Message, error)
	// Tail returns up to max messages in insertion order, truncating the
	// oldest first when the thread is longer than max. max <= 0 means all.
	Tail(threadID string, max int) ([]Message, error)
}
