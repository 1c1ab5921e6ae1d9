package taskstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Adapter used by tests.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*Task

	// FailNext makes the next N calls return ErrUnavailable, for
	// exercising retry paths.
	FailNext int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{nextID: 1, tasks: make(map[int64]*Task)}
}

func (m *MemStore) failing() bool {
	if m.FailNext > 0 {
		m.FailNext--
		return true
	}
	return false
}

func (m *MemStore) Create(_ context.Context, userID, title, notes string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return nil, ErrUnavailable
	}

	now := time.Now()
	t := &Task{
		ID:        m.nextID,
		UserID:    userID,
		Title:     title,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.nextID++
	m.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *MemStore) Get(_ context.Context, userID string, id int64) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return nil, ErrUnavailable
	}

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemStore) List(_ context.Context, userID string, includeDone bool) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return nil, ErrUnavailable
	}

	var out []*Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if t.Done && !includeDone {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) Update(_ context.Context, userID string, id int64, upd Update) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return nil, ErrUnavailable
	}

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Notes != nil {
		t.Notes = *upd.Notes
	}
	if upd.Done != nil {
		t.Done = *upd.Done
		if *upd.Done {
			now := time.Now()
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *MemStore) Complete(ctx context.Context, userID string, id int64) (*Task, error) {
	m.mu.Lock()
	if m.failing() {
		m.mu.Unlock()
		return nil, ErrUnavailable
	}
	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if t.Done {
		cp := *t
		m.mu.Unlock()
		return &cp, nil
	}
	m.mu.Unlock()

	done := true
	return m.Update(ctx, userID, id, Update{Done: &done})
}

func (m *MemStore) Delete(_ context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing() {
		return ErrUnavailable
	}

	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

var _ Adapter = (*MemStore)(nil)
