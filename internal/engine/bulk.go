package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/smarttodo/tasksync/internal/schema"
)

// CompleteTasks marks each listed task completed and returns how many
// changed. Tasks already completed are skipped. Failures for single ids do
// not stop the rest and are joined into the returned error.
func (e *Engine) CompleteTasks(ctx context.Context, ids []string) (int, error) {
	done := schema.StatusCompleted
	var errs []error
	n := 0
	for _, id := range ids {
		e.mu.Lock()
		cur, ok := e.tasks[id]
		skip := ok && cur.Status == schema.StatusCompleted
		e.mu.Unlock()
		if skip {
			continue
		}
		if _, err := e.UpdateTask(ctx, id, schema.TaskPatch{Status: &done}); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// DeleteTasks deletes each listed task and returns how many were removed.
func (e *Engine) DeleteTasks(ctx context.Context, ids []string) (int, error) {
	var errs []error
	n := 0
	for _, id := range ids {
		if err := e.DeleteTask(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// CompleteAll marks every open task completed.
func (e *Engine) CompleteAll(ctx context.Context) (int, error) {
	return e.CompleteTasks(ctx, e.taskIDs(func(t *schema.Task) bool {
		return t.Status != schema.StatusCompleted
	}))
}

// DeleteCompleted deletes every completed task.
func (e *Engine) DeleteCompleted(ctx context.Context) (int, error) {
	return e.DeleteTasks(ctx, e.taskIDs(func(t *schema.Task) bool {
		return t.Status == schema.StatusCompleted
	}))
}

func (e *Engine) taskIDs(match func(*schema.Task) bool) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id, t := range e.tasks {
		if match(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
