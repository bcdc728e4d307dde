package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

// Mutations apply to the local cache and store at once and queue the
// matching remote write. They work offline; the queue replays them in
// order once a drain runs.

// AddTask creates a task from t. ID, UserID and timestamps are assigned
// here; remaining zero fields get their defaults.
func (e *Engine) AddTask(ctx context.Context, t schema.Task) (*schema.Task, error) {
	return e.addTask(ctx, t, false)
}

// addTask with restore set re-adds a task removed earlier: it keeps the
// creation and completion times and leaves the undo history alone.
func (e *Engine) addTask(ctx context.Context, t schema.Task, restore bool) (*schema.Task, error) {
	now := e.now()
	task := t.Clone()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.UserID = e.auth.CurrentUser()
	if !restore || task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if !restore {
		task.CompletedAt = nil
	}
	task.SetDefaults(now)
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := e.tasks[task.ID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("task %s already exists", task.ID)
	}
	if _, err := e.queue.Enqueue(ctx, schema.TypeTask, schema.ActionAdd, task); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.persistTask(ctx, task)
	e.tasks[task.ID] = task
	if !restore {
		e.pushUndo(UndoAction{Kind: UndoAdd, Task: task.Clone()})
	}
	e.changes.Publish(ChangeEvent{Kind: Added, Collection: store.Tasks, ID: task.ID, Task: task.Clone()})
	e.mu.Unlock()

	e.afterEnqueue()
	return task.Clone(), nil
}

// UpdateTask applies patch to the task with the given id.
func (e *Engine) UpdateTask(ctx context.Context, id string, patch schema.TaskPatch) (*schema.Task, error) {
	return e.updateTask(ctx, id, patch, true)
}

func (e *Engine) updateTask(ctx context.Context, id string, patch schema.TaskPatch, record bool) (*schema.Task, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("no changes given")
	}
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	payload, err := schema.NewUpdatePayload(id, patch)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	cur, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	task := cur.Clone()
	patch.Apply(task, e.now())

	if _, err := e.queue.Enqueue(ctx, schema.TypeTask, schema.ActionUpdate, payload); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.persistTask(ctx, task)
	e.tasks[id] = task
	if record {
		e.pushUndo(UndoAction{Kind: UndoUpdate, Task: cur.Clone()})
	}
	e.changes.Publish(ChangeEvent{Kind: Modified, Collection: store.Tasks, ID: id, Task: task.Clone()})
	e.mu.Unlock()

	e.afterEnqueue()
	return task.Clone(), nil
}

// ToggleTask flips a task between completed and pending.
func (e *Engine) ToggleTask(ctx context.Context, id string) (*schema.Task, error) {
	e.mu.Lock()
	cur, ok := e.tasks[id]
	var next schema.Status
	if ok {
		next = schema.StatusCompleted
		if cur.Status == schema.StatusCompleted {
			next = schema.StatusPending
		}
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return e.UpdateTask(ctx, id, schema.TaskPatch{Status: &next})
}

// DeleteTask removes a task locally and queues its remote deletion.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	return e.deleteTask(ctx, id, true)
}

func (e *Engine) deleteTask(ctx context.Context, id string, record bool) error {
	payload, err := schema.NewDeletePayload(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	cur, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if _, err := e.queue.Enqueue(ctx, schema.TypeTask, schema.ActionDelete, payload); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.st.DeleteTask(ctx, id); err != nil {
		e.logger.Printf("Warning: failed to delete task %s locally: %v", id, err)
	}
	delete(e.tasks, id)
	if record {
		e.pushUndo(UndoAction{Kind: UndoDelete, Task: cur.Clone()})
	}
	e.changes.Publish(ChangeEvent{Kind: Removed, Collection: store.Tasks, ID: id, Task: cur.Clone()})
	e.mu.Unlock()

	e.afterEnqueue()
	return nil
}

// AddCategory creates a category from c.
func (e *Engine) AddCategory(ctx context.Context, c schema.Category) (*schema.Category, error) {
	now := e.now()
	cat := c.Clone()
	if cat.ID == "" {
		cat.ID = uuid.NewString()
	}
	cat.UserID = e.auth.CurrentUser()
	cat.CreatedAt = now
	cat.UpdatedAt = now
	cat.TaskCount = 0
	cat.SetDefaults(now)
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid category: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := e.categories[cat.ID]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("category %s already exists", cat.ID)
	}
	if _, err := e.queue.Enqueue(ctx, schema.TypeCategory, schema.ActionAdd, cat); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.persistCategory(ctx, cat)
	e.categories[cat.ID] = cat
	e.changes.Publish(ChangeEvent{Kind: Added, Collection: store.Categories, ID: cat.ID, Category: cat.Clone()})
	e.mu.Unlock()

	e.afterEnqueue()
	return cat.Clone(), nil
}

// UpdateCategory applies patch to the category with the given id.
func (e *Engine) UpdateCategory(ctx context.Context, id string, patch schema.CategoryPatch) (*schema.Category, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("no changes given")
	}
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	payload, err := schema.NewUpdatePayload(id, patch)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	cur, ok := e.categories[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	cat := cur.Clone()
	patch.Apply(cat, e.now())

	if _, err := e.queue.Enqueue(ctx, schema.TypeCategory, schema.ActionUpdate, payload); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.persistCategory(ctx, cat)
	e.categories[id] = cat
	e.changes.Publish(ChangeEvent{Kind: Modified, Collection: store.Categories, ID: id, Category: cat.Clone()})
	e.mu.Unlock()

	e.afterEnqueue()
	return cat.Clone(), nil
}

// DeleteCategory removes a category. Tasks filed under it keep their
// category id.
func (e *Engine) DeleteCategory(ctx context.Context, id string) error {
	payload, err := schema.NewDeletePayload(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	cur, ok := e.categories[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	if _, err := e.queue.Enqueue(ctx, schema.TypeCategory, schema.ActionDelete, payload); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.st.DeleteCategory(ctx, id); err != nil {
		e.logger.Printf("Warning: failed to delete category %s locally: %v", id, err)
	}
	delete(e.categories, id)
	e.changes.Publish(ChangeEvent{Kind: Removed, Collection: store.Categories, ID: id, Category: cur.Clone()})
	e.mu.Unlock()

	e.afterEnqueue()
	return nil
}

// UpdateProfile queues a change to the signed-in user's profile.
func (e *Engine) UpdateProfile(ctx context.Context, patch schema.ProfilePatch) (*schema.Profile, error) {
	uid := e.auth.CurrentUser()
	if uid == "" {
		return nil, ErrAuthenticationMissing
	}
	if patch.DisplayName == nil && len(patch.Settings) == 0 {
		return nil, fmt.Errorf("no changes given")
	}
	payload, err := schema.NewUpdatePayload(uid, patch)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	p := &schema.Profile{UserID: uid}
	if e.profile != nil && e.profile.UserID == uid {
		p = cloneProfile(e.profile)
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	for k, v := range patch.Settings {
		if p.Settings == nil {
			p.Settings = make(map[string]string)
		}
		if v == "" {
			delete(p.Settings, k)
			continue
		}
		p.Settings[k] = v
	}
	p.UpdatedAt = e.now()

	if _, err := e.queue.Enqueue(ctx, schema.TypeUser, schema.ActionUpdate, payload); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.profile = p
	e.mu.Unlock()

	e.afterEnqueue()
	return cloneProfile(p), nil
}

func cloneProfile(p *schema.Profile) *schema.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Settings != nil {
		cp.Settings = make(map[string]string, len(p.Settings))
		for k, v := range p.Settings {
			cp.Settings[k] = v
		}
	}
	return &cp
}

// persistTask writes t to the local store. Failures are logged: the cache
// and the queue still hold the change. Callers hold e.mu.
func (e *Engine) persistTask(ctx context.Context, t *schema.Task) {
	if err := e.st.PutTask(ctx, t); err != nil {
		e.logger.Printf("Warning: failed to store task %s locally: %v", t.ID, err)
	}
}

// persistCategory is persistTask for categories. Callers hold e.mu.
func (e *Engine) persistCategory(ctx context.Context, c *schema.Category) {
	if err := e.st.PutCategory(ctx, c); err != nil {
		e.logger.Printf("Warning: failed to store category %s locally: %v", c.ID, err)
	}
}

// afterEnqueue publishes the new pending count and, when online and idle,
// asks the Run loop for a drain.
func (e *Engine) afterEnqueue() {
	e.mu.Lock()
	s := e.statusLocked()
	e.mu.Unlock()
	e.statuses.Publish(s)
	if s.IsOnline && !s.IsSyncing {
		e.kick(TriggerEnqueue)
	}
}
