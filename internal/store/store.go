// Package store is the on-device durable store for tasks, categories and
// the sync queue.
//
// Two implementations share one contract: SQLite (Open) for normal
// operation and Memory (NewMemory) as the degradation target when durable
// storage cannot be opened. Every write is a single transaction that either
// fully applies or has no effect. Records are copied on the way in and on
// the way out, so callers never share memory with the store.
//
// Collections:
//   - tasks: keyed by id, indexed by user id, status and due date
//   - categories: keyed by id, indexed by user id
//   - syncQueue: auto-increment id, indexed by type and status
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smarttodo/tasksync/internal/schema"
)

var (
	// ErrStorageUnavailable reports that durable storage could not be
	// opened. Callers degrade to memory-only mode.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned by lookups of a missing record.
	ErrNotFound = errors.New("record not found")
)

// Collection names a store collection.
type Collection string

const (
	Tasks      Collection = "tasks"
	Categories Collection = "categories"
	SyncQueue  Collection = "syncQueue"
)

// AllCollections lists every collection in dependency-free order.
var AllCollections = []Collection{Tasks, Categories, SyncQueue}

// IsValid reports whether c names a known collection.
func (c Collection) IsValid() bool {
	switch c {
	case Tasks, Categories, SyncQueue:
		return true
	}
	return false
}

// TaskQuery filters ListTasks. Zero values match everything.
type TaskQuery struct {
	UserID    string
	Status    schema.Status
	DueBefore *time.Time
}

func (q TaskQuery) matches(t *schema.Task) bool {
	if q.UserID != "" && t.UserID != q.UserID {
		return false
	}
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.DueBefore != nil && (t.DueDate == nil || !t.DueDate.Before(*q.DueBefore)) {
		return false
	}
	return true
}

// EntryQuery filters ListEntries. Results are ordered by enqueue timestamp,
// then id.
type EntryQuery struct {
	Status schema.EntryStatus
	Type   schema.EntryType
	Limit  int
}

func (q EntryQuery) matches(e *schema.QueueEntry) bool {
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	return true
}

// Store is the local durable store contract.
type Store interface {
	PutTask(ctx context.Context, t *schema.Task) error
	GetTask(ctx context.Context, id string) (*schema.Task, error)
	ListTasks(ctx context.Context, q TaskQuery) ([]*schema.Task, error)
	DeleteTask(ctx context.Context, id string) error
	// ReplaceTasks swaps the whole task collection for tasks.
	ReplaceTasks(ctx context.Context, tasks []*schema.Task) error

	PutCategory(ctx context.Context, c *schema.Category) error
	GetCategory(ctx context.Context, id string) (*schema.Category, error)
	ListCategories(ctx context.Context, userID string) ([]*schema.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	// ReplaceCategories swaps the whole category collection for cats.
	ReplaceCategories(ctx context.Context, cats []*schema.Category) error

	// AppendEntry stores e under a new auto-increment id and returns it.
	AppendEntry(ctx context.Context, e *schema.QueueEntry) (int64, error)
	PutEntry(ctx context.Context, e *schema.QueueEntry) error
	GetEntry(ctx context.Context, id int64) (*schema.QueueEntry, error)
	ListEntries(ctx context.Context, q EntryQuery) ([]*schema.QueueEntry, error)
	DeleteEntry(ctx context.Context, id int64) error

	// Clear empties the named collections, or all of them when none are
	// named.
	Clear(ctx context.Context, colls ...Collection) error
	Count(ctx context.Context, coll Collection) (int, error)
	// Size estimates the bytes the store occupies.
	Size(ctx context.Context) (int64, error)
	Close() error
}

func resolveCollections(colls []Collection) ([]Collection, error) {
	if len(colls) == 0 {
		return AllCollections, nil
	}
	for _, c := range colls {
		if !c.IsValid() {
			return nil, fmt.Errorf("unknown collection %q", c)
		}
	}
	return colls, nil
}
