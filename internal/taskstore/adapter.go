// Package taskstore defines the task record store capability consumed by
// the operation registry. The store owns authoritative task state; the
// conversational core only holds transient references and results.
package taskstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced task id does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrUnavailable is returned on transient store failures and may be
	// retried by the caller with bounded backoff.
	ErrUnavailable = errors.New("task store unavailable")
)

// Task is one todo record as held by the store.
type Task struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Update carries the mutable fields of a task; nil means unchanged.
type Update struct {
	Title *string
	Notes *string
	Done  *bool
}

// Adapter is the narrow interface operations use to reach the task store.
type Adapter interface {
	Create(ctx context.Context, userID, title, notes string) (*Task, error)
	Get(ctx context.Context, userID string, id int64) (*Task, error)
	List(ctx context.Context, userID string, includeDone bool) ([]*Task, error)
	Update(ctx context.Context, userID string, id int64, upd Update) (*Task, error)
	// Complete marks a task done. Completing an already-done task is a
	// success that changes nothing.
	Complete(ctx context.Context, userID string, id int64) (*Task, error)
	Delete(ctx context.Context, userID string, id int64) error
}
