// Package queue is the durable FIFO of local mutations awaiting remote
// confirmation.
//
// The Queue pairs a store.Store with an in-memory mirror of pending
// entries. The mirror is authoritative for ordering and pending counts
// while the process runs; storage makes it survive restarts. When a
// storage write fails the entry is still kept in the mirror under a
// negative id so the mutation is not lost for this session, and Attach
// persists such entries once a working store is available.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

// ErrUnknownEntry is returned when an id names no queue entry.
var ErrUnknownEntry = errors.New("unknown queue entry")

// Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	st      store.Store
	pending map[int64]*schema.QueueEntry
	localID int64
	now     func() time.Time
	logger  *log.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the clock used for enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the queue's logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue over st. Call Load before use to pick up entries
// left pending by a previous run.
func New(st store.Store, opts ...Option) *Queue {
	q := &Queue{
		st:      st,
		pending: make(map[int64]*schema.QueueEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return q
}

// Load rebuilds the mirror from the pending entries in storage. Entries
// held only in memory are kept.
func (q *Queue) Load(ctx context.Context) error {
	entries, err := q.st.ListEntries(ctx, store.EntryQuery{Status: schema.EntryPending})
	if err != nil {
		return fmt.Errorf("failed to load sync queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.pending {
		if id > 0 {
			delete(q.pending, id)
		}
	}
	for _, e := range entries {
		q.pending[e.ID] = e
	}
	return nil
}

// Attach switches the queue to st and writes any memory-only entries to
// it, then reloads the mirror.
func (q *Queue) Attach(ctx context.Context, st store.Store) error {
	q.mu.Lock()
	q.st = st
	var orphans []*schema.QueueEntry
	for id, e := range q.pending {
		if id < 0 {
			orphans = append(orphans, e)
		}
	}
	q.mu.Unlock()

	store.SortFIFO(orphans)
	for _, e := range orphans {
		if _, err := st.AppendEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to persist queue entry: %w", err)
		}
		q.mu.Lock()
		delete(q.pending, e.ID)
		q.mu.Unlock()
	}
	return q.Load(ctx)
}

// Enqueue records a pending mutation and returns its id. A storage
// failure is logged and the entry is kept in memory only; Enqueue then
// returns the negative local id and a nil error.
func (q *Queue) Enqueue(ctx context.Context, typ schema.EntryType, action schema.Action, payload any) (int64, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return 0, err
	}
	e := &schema.QueueEntry{
		Type:      typ,
		Action:    action,
		Payload:   raw,
		Timestamp: q.now(),
		Status:    schema.EntryPending,
	}
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("invalid queue entry: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id, err := q.st.AppendEntry(ctx, e)
	if err != nil {
		q.localID--
		id = q.localID
		q.logger.Printf("Warning: failed to persist %s %s, keeping it in memory: %v", typ, action, err)
	}
	e.ID = id
	q.pending[id] = e
	return id, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return raw, nil
}

// ListPending returns copies of the pending entries in FIFO order.
func (q *Queue) ListPending(ctx context.Context) []*schema.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*schema.QueueEntry, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.Clone())
	}
	store.SortFIFO(out)
	return out
}

// PendingCount returns the number of pending entries.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// HasPending reports whether any pending entry mutates the record with the
// given type and id.
func (q *Queue) HasPending(typ schema.EntryType, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.pending {
		if e.Type != typ {
			continue
		}
		if rid, err := e.RecordID(); err == nil && rid == id {
			return true
		}
	}
	return false
}

// MarkCompleted removes id from the pending set and marks it completed in
// storage. Calling it for an entry that is already completed is a no-op.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.pending[id]
	if !ok {
		return nil
	}
	delete(q.pending, id)
	if id < 0 {
		return nil
	}
	e.Status = schema.EntryCompleted
	if err := q.st.PutEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to mark queue entry %d completed: %w", id, err)
	}
	return nil
}

// RecordFailure counts a failed attempt for id and stores cause as its
// last error. Once RetryCount reaches maxRetries the entry becomes failed,
// leaves the pending set, and failedNow is true.
func (q *Queue) RecordFailure(ctx context.Context, id int64, cause error, maxRetries int) (entry *schema.QueueEntry, failedNow bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.pending[id]
	if !ok {
		return nil, false, fmt.Errorf("queue entry %d: %w", id, ErrUnknownEntry)
	}
	e.RetryCount++
	if cause != nil {
		e.LastError = cause.Error()
	}
	if e.RetryCount >= maxRetries {
		e.Status = schema.EntryFailed
		delete(q.pending, id)
		failedNow = true
	}
	if id > 0 {
		if perr := q.st.PutEntry(ctx, e); perr != nil {
			q.logger.Printf("Warning: failed to persist retry state of entry %d: %v", id, perr)
		}
	}
	return e.Clone(), failedNow, nil
}

// MarkFailed moves id straight to failed with cause as its last error.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.pending[id]
	if !ok {
		return fmt.Errorf("queue entry %d: %w", id, ErrUnknownEntry)
	}
	delete(q.pending, id)
	e.Status = schema.EntryFailed
	if cause != nil {
		e.LastError = cause.Error()
	}
	if id < 0 {
		return nil
	}
	if err := q.st.PutEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to mark queue entry %d failed: %w", id, err)
	}
	return nil
}

// ListFailed returns failed entries in FIFO order.
func (q *Queue) ListFailed(ctx context.Context) ([]*schema.QueueEntry, error) {
	q.mu.Lock()
	st := q.st
	q.mu.Unlock()

	entries, err := st.ListEntries(ctx, store.EntryQuery{Status: schema.EntryFailed})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed entries: %w", err)
	}
	return entries, nil
}

// Retry puts a failed entry back in the pending set with a fresh retry
// budget. Its original timestamp is kept, so it drains in its original
// position.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.st.GetEntry(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("queue entry %d: %w", id, ErrUnknownEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to read queue entry %d: %w", id, err)
	}
	if e.Status != schema.EntryFailed {
		return fmt.Errorf("queue entry %d is %s, only failed entries can be retried", id, e.Status)
	}
	e.Status = schema.EntryPending
	e.RetryCount = 0
	if err := q.st.PutEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to requeue entry %d: %w", id, err)
	}
	q.pending[id] = e
	return nil
}

// Purge deletes completed entries from storage and returns how many were
// removed.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	done, err := q.st.ListEntries(ctx, store.EntryQuery{Status: schema.EntryCompleted})
	if err != nil {
		return 0, fmt.Errorf("failed to list completed entries: %w", err)
	}
	for i, e := range done {
		if err := q.st.DeleteEntry(ctx, e.ID); err != nil {
			return i, fmt.Errorf("failed to purge entry %d: %w", e.ID, err)
		}
	}
	return len(done), nil
}

// Clear drops every entry, pending or not.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.st.Clear(ctx, store.SyncQueue); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	q.pending = make(map[int64]*schema.QueueEntry)
	return nil
}
