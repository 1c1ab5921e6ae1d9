package taskstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	created, err := store.Create(ctx, "u_alice", "buy milk", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == 0 || created.Title != "buy milk" {
		t.Errorf("created = %+v", created)
	}

	got, err := store.Get(ctx, "u_alice", created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Done {
		t.Error("new task should not be done")
	}

	title := "buy oat milk"
	updated, err := store.Update(ctx, "u_alice", created.ID, Update{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "buy oat milk" {
		t.Errorf("Title = %q", updated.Title)
	}

	if err := store.Delete(ctx, "u_alice", created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "u_alice", created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemStoreUserScoping(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	created, _ := store.Create(ctx, "u_alice", "secret task", "")

	if _, err := store.Get(ctx, "u_bob", created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user Get = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "u_bob", created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user Delete = %v, want ErrNotFound", err)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	created, _ := store.Create(ctx, "u_alice", "water plants", "")

	first, err := store.Complete(ctx, "u_alice", created.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !first.Done || first.CompletedAt == nil {
		t.Fatalf("first = %+v", first)
	}

	second, err := store.Complete(ctx, "u_alice", created.ID)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if !second.Done {
		t.Error("second complete should still report done")
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Error("second complete must not move CompletedAt")
	}
}

func TestListExcludesDoneByDefault(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	a, _ := store.Create(ctx, "u_alice", "one", "")
	store.Create(ctx, "u_alice", "two", "")
	store.Complete(ctx, "u_alice", a.ID)

	open, err := store.List(ctx, "u_alice", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 1 || open[0].Title != "two" {
		t.Errorf("open = %+v", open)
	}

	all, _ := store.List(ctx, "u_alice", true)
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestFailNextSurfacesUnavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	store.FailNext = 1

	if _, err := store.Create(ctx, "u_alice", "x", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if _, err := store.Create(ctx, "u_alice", "x", ""); err != nil {
		t.Fatalf("second call should succeed, got %v", err)
	}
}
