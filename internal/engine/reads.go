package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/smarttodo/tasksync/internal/schema"
)

// Tasks returns copies of the cached tasks matching f. Without a sort
// order they come newest first.
func (e *Engine) Tasks(f schema.Filter) []*schema.Task {
	e.mu.Lock()
	tasks := e.sortedTasksLocked()
	e.mu.Unlock()
	return f.Apply(tasks, e.now())
}

// Task returns a copy of one cached task.
func (e *Engine) Task(id string) (*schema.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// Categories returns copies of the cached categories sorted by name, with
// TaskCount filled in.
func (e *Engine) Categories() []*schema.Category {
	e.mu.Lock()
	defer e.mu.Unlock()
	cats := e.sortedCategoriesLocked()
	schema.CountTasks(cats, e.sortedTasksLocked())
	return cats
}

// Stats summarises the cached tasks.
func (e *Engine) Stats() schema.Stats {
	e.mu.Lock()
	tasks := e.sortedTasksLocked()
	e.mu.Unlock()
	return schema.ComputeStats(tasks, e.now())
}

// Profile returns the last known profile of the signed-in user, or nil.
func (e *Engine) Profile() *schema.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneProfile(e.profile)
}

// PendingEntries returns the queued changes in replay order.
func (e *Engine) PendingEntries(ctx context.Context) []*schema.QueueEntry {
	return e.queue.ListPending(ctx)
}

// FailedEntries returns the changes that exhausted their retries.
func (e *Engine) FailedEntries(ctx context.Context) ([]*schema.QueueEntry, error) {
	return e.queue.ListFailed(ctx)
}

// RetryEntry puts a failed change back in the queue with a fresh retry
// budget and asks for a drain.
func (e *Engine) RetryEntry(ctx context.Context, id int64) error {
	if err := e.queue.Retry(ctx, id); err != nil {
		return err
	}
	e.afterEnqueue()
	return nil
}

// PurgeQueue deletes completed entries from storage. Failed entries are
// kept until retried.
func (e *Engine) PurgeQueue(ctx context.Context) (int, error) {
	return e.queue.Purge(ctx)
}

// StorageUsage reports the bytes used by the local store.
func (e *Engine) StorageUsage(ctx context.Context) (int64, error) {
	e.mu.Lock()
	st := e.st
	e.mu.Unlock()
	size, err := st.Size(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to measure local storage: %w", err)
	}
	return size, nil
}

func (e *Engine) sortedTasksLocked() []*schema.Task {
	out := make([]*schema.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) sortedCategoriesLocked() []*schema.Category {
	out := make([]*schema.Category, 0, len(e.categories))
	for _, c := range e.categories {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
