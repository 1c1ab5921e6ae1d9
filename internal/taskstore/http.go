package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPStore talks to the external task CRUD service.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a client for the task service at baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) Create(ctx context.Context, userID, title, notes string) (*Task, error) {
	body := map[string]string{"title": title, "notes": notes}
	var task Task
	if err := s.do(ctx, userID, http.MethodPost, "/tasks", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *HTTPStore) Get(ctx context.Context, userID string, id int64) (*Task, error) {
	var task Task
	if err := s.do(ctx, userID, http.MethodGet, fmt.Sprintf("/tasks/%d", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *HTTPStore) List(ctx context.Context, userID string, includeDone bool) ([]*Task, error) {
	path := "/tasks"
	if includeDone {
		path += "?include_done=true"
	}
	var tasks []*Task
	if err := s.do(ctx, userID, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *HTTPStore) Update(ctx context.Context, userID string, id int64, upd Update) (*Task, error) {
	body := map[string]any{}
	if upd.Title != nil {
		body["title"] = *upd.Title
	}
	if upd.Notes != nil {
		body["notes"] = *upd.Notes
	}
	if upd.Done != nil {
		body["done"] = *upd.Done
	}
	var task Task
	if err := s.do(ctx, userID, http.MethodPatch, fmt.Sprintf("/tasks/%d", id), body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *HTTPStore) Complete(ctx context.Context, userID string, id int64) (*Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if task.Done {
		return task, nil
	}
	done := true
	return s.Update(ctx, userID, id, Update{Done: &done})
}

func (s *HTTPStore) Delete(ctx context.Context, userID string, id int64) error {
	return s.do(ctx, userID, http.MethodDelete, fmt.Sprintf("/tasks/%d", id), nil, nil)
}

// do performs one request against the task service. The acting user is
// forwarded as a header; the service scopes records per user.
func (s *HTTPStore) do(ctx context.Context, userID, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tasktalk-User", userID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("task service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Adapter = (*HTTPStore)(nil)
