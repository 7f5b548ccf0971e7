package todos

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTempDB(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	dsn, err := SQLiteFileDSN(dbPath)
	if err != nil {
		t.Fatalf("dsn error: %v", err)
	}
	repo, err := NewSQLStore(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
		_ = os.RemoveAll(dir)
	})
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	return repo
}

func strPtr(s string) *string { return &s }

func TestNewSQLStore_UnknownDriver(t *testing.T) {
	if _, err := NewSQLStore("oracle", "whatever"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestSQLStore_CreateAndList(t *testing.T) {
	repo := newTempDB(t)
	ctx := context.Background()

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", list)
	}

	due := time.Date(2031, 2, 3, 4, 5, 6, 0, time.UTC)
	a, err := repo.Create(ctx, Todo{ID: 500, Title: "first", Description: strPtr("desc"), DueDate: &due})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if a.ID == 0 || a.ID == 500 || a.Title != "first" || a.IsCompleted || a.Version == "" {
		t.Fatalf("bad first todo: %+v", a)
	}

	b, err := repo.Create(ctx, Todo{Title: "second"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if b.ID <= a.ID {
		t.Fatalf("expected monotonic IDs: a=%d b=%d", a.ID, b.ID)
	}

	list, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 todos, got %d", len(list))
	}
	if list[0].Title != "first" || list[1].Title != "second" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[0].Description == nil || *list[0].Description != "desc" {
		t.Errorf("description not round-tripped: %v", list[0].Description)
	}
	if list[0].DueDate == nil || !list[0].DueDate.Equal(due) {
		t.Errorf("dueDate not round-tripped: %v", list[0].DueDate)
	}
	if list[1].Description != nil || list[1].DueDate != nil {
		t.Errorf("expected null description and dueDate, got %+v", list[1])
	}
	if !list[0].CreatedDate.Equal(a.CreatedDate) {
		t.Errorf("createdDate not round-tripped: %v vs %v", list[0].CreatedDate, a.CreatedDate)
	}
}

func TestSQLStore_GetAndExists(t *testing.T) {
	repo := newTempDB(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, 99999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := repo.Exists(ctx, 99999)
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}

	created, err := repo.Create(ctx, Todo{Title: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != created.Version || got.Title != "x" {
		t.Fatalf("unexpected todo %+v", got)
	}
	ok, err = repo.Exists(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("expected (true, nil), got (%v, %v)", ok, err)
	}
}

func TestSQLStore_UpdateVersioning(t *testing.T) {
	repo := newTempDB(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, Todo{Title: "before"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	upd := created
	upd.Title = "after"
	upd.IsCompleted = true
	upd.CreatedDate = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := repo.Update(ctx, upd)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != "after" || !got.IsCompleted {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.CreatedDate.Equal(created.CreatedDate) {
		t.Fatalf("createdDate must not change: %v vs %v", got.CreatedDate, created.CreatedDate)
	}
	if got.Version == created.Version {
		t.Fatalf("expected a new version after update")
	}

	// The old version is now stale.
	if _, err := repo.Update(ctx, upd); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}

	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	upd.Version = got.Version
	if _, err := repo.Update(ctx, upd); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for deleted row, got %v", err)
	}
}

func TestSQLStore_Delete(t *testing.T) {
	repo := newTempDB(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, Todo{Title: "doomed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := repo.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSQLStore_MigrateIsIdempotent(t *testing.T) {
	repo := newTempDB(t)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
