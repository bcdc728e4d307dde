package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/smarttodo/tasksync/internal/schema"
)

// Memory is a Store held entirely in process memory. It is used when
// durable storage is unavailable and in tests.
type Memory struct {
	mu         sync.RWMutex
	tasks      map[string]*schema.Task
	categories map[string]*schema.Category
	entries    map[int64]*schema.QueueEntry
	nextID     int64
	closed     bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:      make(map[string]*schema.Task),
		categories: make(map[string]*schema.Category),
		entries:    make(map[int64]*schema.QueueEntry),
	}
}

func (m *Memory) check() error {
	if m.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

func (m *Memory) PutTask(ctx context.Context, t *schema.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *Memory) ListTasks(ctx context.Context, q TaskQuery) ([]*schema.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []*schema.Task
	for _, t := range m.tasks {
		if q.matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ReplaceTasks(ctx context.Context, tasks []*schema.Task) error {
	next := make(map[string]*schema.Task, len(tasks))
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid task: %w", err)
		}
		next[t.ID] = t.Clone()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.tasks = next
	return nil
}

func (m *Memory) PutCategory(ctx context.Context, c *schema.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	cp := c.Clone()
	cp.TaskCount = 0
	m.categories[c.ID] = cp
	return nil
}

func (m *Memory) GetCategory(ctx context.Context, id string) (*schema.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	c, ok := m.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *Memory) ListCategories(ctx context.Context, userID string) ([]*schema.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []*schema.Category
	for _, c := range m.categories {
		if userID == "" || c.UserID == userID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) DeleteCategory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.categories, id)
	return nil
}

func (m *Memory) ReplaceCategories(ctx context.Context, cats []*schema.Category) error {
	next := make(map[string]*schema.Category, len(cats))
	for _, c := range cats {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid category: %w", err)
		}
		cp := c.Clone()
		cp.TaskCount = 0
		next[c.ID] = cp
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.categories = next
	return nil
}

func (m *Memory) AppendEntry(ctx context.Context, e *schema.QueueEntry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue entry: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	m.nextID++
	cp := e.Clone()
	cp.ID = m.nextID
	cp.Status = entryStatus(cp.Status)
	m.entries[cp.ID] = cp
	return cp.ID, nil
}

func (m *Memory) PutEntry(ctx context.Context, e *schema.QueueEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}
	if e.ID <= 0 {
		return fmt.Errorf("queue entry id must be positive (got %d)", e.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	cp := e.Clone()
	cp.Status = entryStatus(cp.Status)
	m.entries[cp.ID] = cp
	if cp.ID > m.nextID {
		m.nextID = cp.ID
	}
	return nil
}

func (m *Memory) GetEntry(ctx context.Context, id int64) (*schema.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("queue entry %d: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *Memory) ListEntries(ctx context.Context, q EntryQuery) ([]*schema.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []*schema.QueueEntry
	for _, e := range m.entries {
		if q.matches(e) {
			out = append(out, e.Clone())
		}
	}
	SortFIFO(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) DeleteEntry(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) Clear(ctx context.Context, colls ...Collection) error {
	colls, err := resolveCollections(colls)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for _, c := range colls {
		switch c {
		case Tasks:
			m.tasks = make(map[string]*schema.Task)
		case Categories:
			m.categories = make(map[string]*schema.Category)
		case SyncQueue:
			m.entries = make(map[int64]*schema.QueueEntry)
		}
	}
	return nil
}

func (m *Memory) Count(ctx context.Context, coll Collection) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	switch coll {
	case Tasks:
		return len(m.tasks), nil
	case Categories:
		return len(m.categories), nil
	case SyncQueue:
		return len(m.entries), nil
	}
	return 0, fmt.Errorf("unknown collection %q", coll)
}

// Size is the JSON-encoded size of every record held.
func (m *Memory) Size(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	var total int64
	for _, v := range []any{m.tasks, m.categories, m.entries} {
		data, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("failed to measure memory store: %w", err)
		}
		total += int64(len(data))
	}
	return total, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SortFIFO orders entries by enqueue timestamp, then id.
func SortFIFO(entries []*schema.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Timestamp.Equal(b.Timestamp) {
			return a.ID < b.ID
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}
