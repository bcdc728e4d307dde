package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

// Record is anything last-write-wins can compare.
type Record interface {
	LastModified() time.Time
}

// Resolve picks the winner between a local record with pending changes
// and its remote version: the later LastModified wins as a whole record,
// and a tie goes to the remote.
//
// Field-level merges are not attempted; concurrent edits to different
// fields of the same record lose the older side's changes.
func Resolve[T Record](local, remote T) T {
	if local.LastModified().After(remote.LastModified()) {
		return local
	}
	return remote
}

// pendingState is what the queue still owes the remote for one record.
type pendingState struct {
	modified bool // pending add or update
	deleted  bool // pending delete
}

// merge combines the local cache with a remote snapshot.
//
//   - records with pending changes and a remote version: Resolve
//   - records without pending changes: the remote version
//   - local-only records: kept only with a pending add or update
//   - records with a pending delete: dropped, never resurrected
func merge[T Record](local, remoteRecs map[string]T, pending map[string]pendingState) map[string]T {
	out := make(map[string]T, len(remoteRecs))
	for id, r := range remoteRecs {
		ps := pending[id]
		if ps.deleted {
			continue
		}
		if l, ok := local[id]; ok && ps.modified {
			out[id] = Resolve(l, r)
			continue
		}
		out[id] = r
	}
	for id, l := range local {
		if _, ok := remoteRecs[id]; ok {
			continue
		}
		if ps := pending[id]; ps.modified && !ps.deleted {
			out[id] = l
		}
	}
	return out
}

// pendingIndex folds the pending queue into per-record state for typ. The
// last action on a record decides.
func (e *Engine) pendingIndex(ctx context.Context, typ schema.EntryType) map[string]pendingState {
	idx := make(map[string]pendingState)
	for _, entry := range e.queue.ListPending(ctx) {
		if entry.Type != typ {
			continue
		}
		id, err := entry.RecordID()
		if err != nil || id == "" {
			continue
		}
		switch entry.Action {
		case schema.ActionAdd, schema.ActionUpdate:
			idx[id] = pendingState{modified: true}
		case schema.ActionDelete:
			idx[id] = pendingState{deleted: true}
		}
	}
	return idx
}

// pull refreshes tasks, categories and the profile from the remote and
// replaces the local cache and store with the merged result.
func (e *Engine) pull(ctx context.Context, uid string) error {
	now := e.now()

	taskDocs, err := e.remote.Query(ctx, uid, remote.Tasks, remote.Query{OrderBy: "createdAt", Desc: true})
	if err != nil {
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}
	catDocs, err := e.remote.Query(ctx, uid, remote.Categories, remote.Query{OrderBy: "name"})
	if err != nil {
		return fmt.Errorf("failed to fetch categories: %w", err)
	}
	profileDocs, err := e.remote.Query(ctx, uid, remote.Users, remote.Query{})
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}

	remoteTasks := make(map[string]*schema.Task, len(taskDocs))
	for _, d := range taskDocs {
		var t schema.Task
		if err := remote.Decode(d, &t); err != nil {
			e.logger.Printf("Warning: skipping remote task %s: %v", d.ID, err)
			continue
		}
		t.UserID = uid
		t.SetDefaults(now)
		if err := t.Validate(); err != nil {
			e.logger.Printf("Warning: skipping remote task %s: %v", d.ID, err)
			continue
		}
		remoteTasks[t.ID] = &t
	}

	remoteCats := make(map[string]*schema.Category, len(catDocs))
	for _, d := range catDocs {
		var c schema.Category
		if err := remote.Decode(d, &c); err != nil {
			e.logger.Printf("Warning: skipping remote category %s: %v", d.ID, err)
			continue
		}
		c.UserID = uid
		c.SetDefaults(now)
		if err := c.Validate(); err != nil {
			e.logger.Printf("Warning: skipping remote category %s: %v", d.ID, err)
			continue
		}
		remoteCats[c.ID] = &c
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mergedTasks := merge(e.tasks, remoteTasks, e.pendingIndex(ctx, schema.TypeTask))
	mergedCats := merge(e.categories, remoteCats, e.pendingIndex(ctx, schema.TypeCategory))

	if err := e.st.ReplaceTasks(ctx, values(mergedTasks)); err != nil {
		return fmt.Errorf("failed to store pulled tasks: %w", err)
	}
	if err := e.st.ReplaceCategories(ctx, values(mergedCats)); err != nil {
		return fmt.Errorf("failed to store pulled categories: %w", err)
	}

	e.publishTaskDiff(e.tasks, mergedTasks)
	e.publishCategoryDiff(e.categories, mergedCats)
	e.tasks = mergedTasks
	e.categories = mergedCats

	if len(profileDocs) > 0 && !e.queueHasProfileChange(ctx) {
		for _, d := range profileDocs {
			if d.ID != uid {
				continue
			}
			var p schema.Profile
			if err := remote.Decode(d, &p); err != nil {
				e.logger.Printf("Warning: skipping remote profile: %v", err)
				break
			}
			p.UserID = uid
			e.profile = &p
		}
	}

	e.logger.Printf("Pulled %d tasks, %d categories", len(mergedTasks), len(mergedCats))
	return nil
}

// queueHasProfileChange reports whether a profile change is still queued.
func (e *Engine) queueHasProfileChange(ctx context.Context) bool {
	for _, entry := range e.queue.ListPending(ctx) {
		if entry.Type == schema.TypeUser {
			return true
		}
	}
	return false
}

func values[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func (e *Engine) publishTaskDiff(before, after map[string]*schema.Task) {
	for id, t := range after {
		old, ok := before[id]
		switch {
		case !ok:
			e.changes.Publish(ChangeEvent{Kind: Added, Collection: store.Tasks, ID: id, Task: t.Clone()})
		case !sameTask(old, t):
			e.changes.Publish(ChangeEvent{Kind: Modified, Collection: store.Tasks, ID: id, Task: t.Clone()})
		}
	}
	for id, t := range before {
		if _, ok := after[id]; !ok {
			e.changes.Publish(ChangeEvent{Kind: Removed, Collection: store.Tasks, ID: id, Task: t.Clone()})
		}
	}
}

func (e *Engine) publishCategoryDiff(before, after map[string]*schema.Category) {
	for id, c := range after {
		old, ok := before[id]
		switch {
		case !ok:
			e.changes.Publish(ChangeEvent{Kind: Added, Collection: store.Categories, ID: id, Category: c.Clone()})
		case old.Name != c.Name || old.Color != c.Color || !old.LastModified().Equal(c.LastModified()):
			e.changes.Publish(ChangeEvent{Kind: Modified, Collection: store.Categories, ID: id, Category: c.Clone()})
		}
	}
	for id, c := range before {
		if _, ok := after[id]; !ok {
			e.changes.Publish(ChangeEvent{Kind: Removed, Collection: store.Categories, ID: id, Category: c.Clone()})
		}
	}
}

func sameTask(a, b *schema.Task) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Status == b.Status &&
		a.Priority == b.Priority &&
		sameTime(a.DueDate, b.DueDate) &&
		a.Category == b.Category &&
		a.Important == b.Important &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		sameTime(a.CompletedAt, b.CompletedAt) &&
		a.UserID == b.UserID
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
