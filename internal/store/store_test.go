package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/smarttodo/tasksync/internal/schema"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "todo.db")
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		db, err := OpenContext(context.Background(), testDBPath(t), quietLogger())
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		defer db.Close()
		fn(t, db)
	})
	t.Run("memory", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()
		fn(t, m)
	})
}

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func newTask(id, user string, offset time.Duration) *schema.Task {
	t := &schema.Task{ID: id, Title: "task " + id, UserID: user, CreatedAt: base.Add(offset)}
	t.SetDefaults(base)
	return t
}

func newEntry(action schema.Action, ts time.Time) *schema.QueueEntry {
	return &schema.QueueEntry{
		Type:      schema.TypeTask,
		Action:    action,
		Payload:   json.RawMessage(`{"id":"t-1"}`),
		Timestamp: ts,
		Status:    schema.EntryPending,
	}
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	for _, table := range []string{"tasks", "categories", "sync_queue"} {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.RawDB().QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	if err := db.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

func TestOpen_Unavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(filepath.Join(blocker, "nested", "todo.db"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Open() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestOpenOrMemory_FallsBackToMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := OpenOrMemory(context.Background(), filepath.Join(blocker, "todo.db"), quietLogger())
	if !IsUnavailable(err) {
		t.Fatalf("OpenOrMemory() error = %v, want ErrStorageUnavailable warning", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Fatalf("OpenOrMemory() returned %T, want *Memory", s)
	}

	ctx := context.Background()
	if err := s.PutTask(ctx, newTask("t-1", "u-1", 0)); err != nil {
		t.Fatalf("memory fallback should accept writes: %v", err)
	}
}

func TestOpenOrMemory_Durable(t *testing.T) {
	s, err := OpenOrMemory(context.Background(), testDBPath(t), quietLogger())
	if err != nil {
		t.Fatalf("OpenOrMemory() failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLite); !ok {
		t.Errorf("OpenOrMemory() returned %T, want *SQLite", s)
	}
}

func TestStore_TaskRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		due := base.Add(48 * time.Hour)
		task := newTask("t-1", "u-1", 0)
		task.Description = "two litres"
		task.DueDate = &due
		task.Category = "c-1"
		task.Important = true
		task.Status = schema.StatusCompleted
		task.Normalize(base.Add(time.Hour))

		if err := s.PutTask(ctx, task); err != nil {
			t.Fatalf("PutTask() failed: %v", err)
		}
		got, err := s.GetTask(ctx, "t-1")
		if err != nil {
			t.Fatalf("GetTask() failed: %v", err)
		}
		if diff := cmp.Diff(task, got); diff != "" {
			t.Errorf("GetTask() mismatch (-want +got):\n%s", diff)
		}

		got.Title = "mutated"
		again, _ := s.GetTask(ctx, "t-1")
		if again.Title != task.Title {
			t.Errorf("store shares memory with callers")
		}
	})
}

func TestStore_GetMissing(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.GetTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetTask() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetCategory(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetCategory() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetEntry(ctx, 42); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetEntry() error = %v, want ErrNotFound", err)
		}
		if err := s.DeleteTask(ctx, "nope"); err != nil {
			t.Errorf("DeleteTask() on missing id failed: %v", err)
		}
	})
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.PutTask(ctx, &schema.Task{ID: "t-1"}); err == nil {
			t.Error("PutTask() accepted an invalid task")
		}
		if n, _ := s.Count(ctx, Tasks); n != 0 {
			t.Errorf("Count(tasks) = %d after rejected write, want 0", n)
		}
	})
}

func TestStore_ListTasks(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		soon := base.Add(time.Hour)
		tasks := []*schema.Task{
			newTask("b", "u-1", 2*time.Minute),
			newTask("a", "u-1", time.Minute),
			newTask("c", "u-2", 3*time.Minute),
		}
		tasks[1].DueDate = &soon
		tasks[2].Status = schema.StatusInProgress

		for _, task := range tasks {
			if err := s.PutTask(ctx, task); err != nil {
				t.Fatalf("PutTask(%s) failed: %v", task.ID, err)
			}
		}

		limit := base.Add(2 * time.Hour)
		tests := []struct {
			name  string
			query TaskQuery
			want  []string
		}{
			{"all ordered by creation", TaskQuery{}, []string{"a", "b", "c"}},
			{"by user", TaskQuery{UserID: "u-1"}, []string{"a", "b"}},
			{"by status", TaskQuery{Status: schema.StatusInProgress}, []string{"c"}},
			{"due before", TaskQuery{DueBefore: &limit}, []string{"a"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.ListTasks(ctx, tt.query)
				if err != nil {
					t.Fatalf("ListTasks() failed: %v", err)
				}
				var ids []string
				for _, task := range got {
					ids = append(ids, task.ID)
				}
				if diff := cmp.Diff(tt.want, ids); diff != "" {
					t.Errorf("ListTasks() ids mismatch (-want +got):\n%s", diff)
				}
			})
		}
	})
}

func TestStore_ReplaceTasks(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.PutTask(ctx, newTask("old", "u-1", 0))

		if err := s.ReplaceTasks(ctx, []*schema.Task{newTask("new", "u-1", 0)}); err != nil {
			t.Fatalf("ReplaceTasks() failed: %v", err)
		}
		if _, err := s.GetTask(ctx, "old"); !errors.Is(err, ErrNotFound) {
			t.Errorf("old task survived ReplaceTasks: %v", err)
		}

		bad := []*schema.Task{newTask("x", "u-1", 0), {ID: "broken"}}
		if err := s.ReplaceTasks(ctx, bad); err == nil {
			t.Fatal("ReplaceTasks() accepted an invalid task")
		}
		if _, err := s.GetTask(ctx, "new"); err != nil {
			t.Errorf("failed ReplaceTasks must have no effect, GetTask(new) = %v", err)
		}
	})
}

func TestStore_Categories(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		work := &schema.Category{ID: "c-1", Name: "Work", UserID: "u-1"}
		work.SetDefaults(base)
		home := &schema.Category{ID: "c-2", Name: "Home", UserID: "u-1"}
		home.SetDefaults(base)
		other := &schema.Category{ID: "c-3", Name: "Other", UserID: "u-2"}
		other.SetDefaults(base)

		for _, c := range []*schema.Category{work, home, other} {
			if err := s.PutCategory(ctx, c); err != nil {
				t.Fatalf("PutCategory(%s) failed: %v", c.ID, err)
			}
		}

		got, err := s.ListCategories(ctx, "u-1")
		if err != nil {
			t.Fatalf("ListCategories() failed: %v", err)
		}
		if diff := cmp.Diff([]*schema.Category{home, work}, got); diff != "" {
			t.Errorf("ListCategories() mismatch (-want +got):\n%s", diff)
		}

		if err := s.DeleteCategory(ctx, "c-1"); err != nil {
			t.Fatalf("DeleteCategory() failed: %v", err)
		}
		if n, _ := s.Count(ctx, Categories); n != 2 {
			t.Errorf("Count(categories) = %d, want 2", n)
		}

		if err := s.ReplaceCategories(ctx, []*schema.Category{work}); err != nil {
			t.Fatalf("ReplaceCategories() failed: %v", err)
		}
		if n, _ := s.Count(ctx, Categories); n != 1 {
			t.Errorf("Count(categories) = %d after replace, want 1", n)
		}
	})
}

func TestStore_QueueEntries(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		// Same timestamp for the first two: id breaks the tie.
		ids := make([]int64, 0, 3)
		for _, e := range []*schema.QueueEntry{
			newEntry(schema.ActionAdd, base),
			newEntry(schema.ActionUpdate, base),
			newEntry(schema.ActionDelete, base.Add(time.Second)),
		} {
			id, err := s.AppendEntry(ctx, e)
			if err != nil {
				t.Fatalf("AppendEntry() failed: %v", err)
			}
			ids = append(ids, id)
		}
		if !(ids[0] < ids[1] && ids[1] < ids[2]) {
			t.Fatalf("ids not increasing: %v", ids)
		}

		got, err := s.ListEntries(ctx, EntryQuery{Status: schema.EntryPending})
		if err != nil {
			t.Fatalf("ListEntries() failed: %v", err)
		}
		var actions []schema.Action
		for _, e := range got {
			actions = append(actions, e.Action)
		}
		want := []schema.Action{schema.ActionAdd, schema.ActionUpdate, schema.ActionDelete}
		if diff := cmp.Diff(want, actions); diff != "" {
			t.Errorf("FIFO order mismatch (-want +got):\n%s", diff)
		}

		first := got[0]
		first.Status = schema.EntryFailed
		first.RetryCount = 3
		first.LastError = "boom"
		if err := s.PutEntry(ctx, first); err != nil {
			t.Fatalf("PutEntry() failed: %v", err)
		}
		stored, err := s.GetEntry(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetEntry() failed: %v", err)
		}
		if diff := cmp.Diff(first, stored); diff != "" {
			t.Errorf("GetEntry() mismatch (-want +got):\n%s", diff)
		}

		failed, _ := s.ListEntries(ctx, EntryQuery{Status: schema.EntryFailed})
		if len(failed) != 1 {
			t.Errorf("ListEntries(failed) returned %d entries, want 1", len(failed))
		}
		limited, _ := s.ListEntries(ctx, EntryQuery{Limit: 2})
		if len(limited) != 2 {
			t.Errorf("ListEntries(limit 2) returned %d entries", len(limited))
		}

		if err := s.DeleteEntry(ctx, first.ID); err != nil {
			t.Fatalf("DeleteEntry() failed: %v", err)
		}
		if n, _ := s.Count(ctx, SyncQueue); n != 2 {
			t.Errorf("Count(syncQueue) = %d, want 2", n)
		}
	})
}

func TestStore_Clear(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.PutTask(ctx, newTask("t-1", "u-1", 0))
		if _, err := s.AppendEntry(ctx, newEntry(schema.ActionAdd, base)); err != nil {
			t.Fatal(err)
		}

		if err := s.Clear(ctx, SyncQueue); err != nil {
			t.Fatalf("Clear(syncQueue) failed: %v", err)
		}
		if n, _ := s.Count(ctx, Tasks); n != 1 {
			t.Errorf("Clear(syncQueue) touched tasks: count = %d", n)
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear() failed: %v", err)
		}
		for _, c := range AllCollections {
			if n, _ := s.Count(ctx, c); n != 0 {
				t.Errorf("Count(%s) = %d after Clear(), want 0", c, n)
			}
		}
		if err := s.Clear(ctx, "bogus"); err == nil {
			t.Error("Clear() accepted an unknown collection")
		}
	})
}

func TestStore_Size(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		before, err := s.Size(ctx)
		if err != nil {
			t.Fatalf("Size() failed: %v", err)
		}
		for i := 0; i < 200; i++ {
			task := newTask(fmt.Sprintf("t-%03d", i), "u-1", time.Duration(i)*time.Second)
			task.Description = strings.Repeat("x", 400)
			if err := s.PutTask(ctx, task); err != nil {
				t.Fatalf("PutTask() failed: %v", err)
			}
		}
		after, err := s.Size(ctx)
		if err != nil {
			t.Fatalf("Size() failed: %v", err)
		}
		if after <= before {
			t.Errorf("Size() = %d after 200 tasks, want more than %d", after, before)
		}
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := testDBPath(t)
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := db.AppendEntry(ctx, newEntry(schema.ActionAdd, base)); err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("re-Open() failed: %v", err)
	}
	defer db.Close()
	entries, err := db.ListEntries(ctx, EntryQuery{Status: schema.EntryPending})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d pending entries after reopen, want 1", len(entries))
	}
}

func TestCopyAll(t *testing.T) {
	ctx := context.Background()
	src := NewMemory()
	_ = src.PutTask(ctx, newTask("t-1", "u-1", 0))
	cat := &schema.Category{ID: "c-1", Name: "Work"}
	cat.SetDefaults(base)
	_ = src.PutCategory(ctx, cat)
	for i := 0; i < 3; i++ {
		if _, err := src.AppendEntry(ctx, newEntry(schema.ActionAdd, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	dst, err := OpenContext(ctx, testDBPath(t), quietLogger())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer dst.Close()

	if err := CopyAll(ctx, dst, src); err != nil {
		t.Fatalf("CopyAll() failed: %v", err)
	}
	for _, c := range AllCollections {
		want, _ := src.Count(ctx, c)
		got, _ := dst.Count(ctx, c)
		if got != want {
			t.Errorf("Count(%s) = %d, want %d", c, got, want)
		}
	}
}
