package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/smarttodo/tasksync/internal/backup"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

// ImportSummary reports what an import replaced the local data with.
type ImportSummary struct {
	Tasks      int
	Categories int
	Queued     int
}

// Snapshot captures the cached tasks and categories for export.
func (e *Engine) Snapshot() *backup.Snapshot {
	e.mu.Lock()
	tasks := e.sortedTasksLocked()
	cats := e.sortedCategoriesLocked()
	e.mu.Unlock()
	schema.CountTasks(cats, tasks)
	return backup.New(tasks, cats, e.now())
}

// Export writes a backup of the cached data to w.
func (e *Engine) Export(w io.Writer) error {
	return backup.Write(w, e.Snapshot())
}

// ExportFile writes a backup to path.
func (e *Engine) ExportFile(path string) error {
	return backup.WriteFile(path, e.Snapshot())
}

// Import replaces all local tasks and categories with the contents of a
// backup and queues an add for each record so the remote catches up.
// Pending changes are discarded. An unreadable backup leaves local data
// untouched and returns an error wrapping backup.ErrImportFormatInvalid.
func (e *Engine) Import(ctx context.Context, r io.Reader) (ImportSummary, error) {
	var sum ImportSummary
	snap, err := backup.Read(r, e.now())
	if err != nil {
		return sum, err
	}
	uid := e.auth.CurrentUser()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return sum, ErrClosed
	}
	if err := e.clearLocked(ctx); err != nil {
		e.mu.Unlock()
		return sum, err
	}

	for _, t := range snap.Tasks {
		t.UserID = uid
		if _, err := e.queue.Enqueue(ctx, schema.TypeTask, schema.ActionAdd, t); err != nil {
			e.mu.Unlock()
			return sum, fmt.Errorf("failed to queue task %s: %w", t.ID, err)
		}
		e.persistTask(ctx, t)
		e.tasks[t.ID] = t
		e.changes.Publish(ChangeEvent{Kind: Added, Collection: store.Tasks, ID: t.ID, Task: t.Clone()})
		sum.Tasks++
		sum.Queued++
	}
	for _, c := range snap.Categories {
		c.UserID = uid
		c.TaskCount = 0
		if _, err := e.queue.Enqueue(ctx, schema.TypeCategory, schema.ActionAdd, c); err != nil {
			e.mu.Unlock()
			return sum, fmt.Errorf("failed to queue category %s: %w", c.ID, err)
		}
		e.persistCategory(ctx, c)
		e.categories[c.ID] = c
		e.changes.Publish(ChangeEvent{Kind: Added, Collection: store.Categories, ID: c.ID, Category: c.Clone()})
		sum.Categories++
		sum.Queued++
	}
	e.mu.Unlock()

	e.logger.Printf("Imported %d tasks and %d categories", sum.Tasks, sum.Categories)
	e.afterEnqueue()
	return sum, nil
}
