package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OpKind names a remote operation.
type OpKind string

const (
	OpSet    OpKind = "set"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
	OpQuery  OpKind = "query"
)

// Op records one call made against a Memory store.
type Op struct {
	Kind       OpKind
	UserID     string
	Collection string
	ID         string
}

// Memory is an in-process remote with its own clock and fault injection.
// It stands in for the real backend in tests and local demos.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]map[string]any // userID/coll -> id -> data
	now     func() time.Time
	ops     []Op
	failFn  func(Op) error
	failN   int
	failErr error
	closed  bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process remote. A nil clock uses wall time.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		docs: make(map[string]map[string]map[string]any),
		now:  now,
	}
}

// FailWith installs fn to decide, per operation, whether it fails. A nil
// fn clears it.
func (m *Memory) FailWith(fn func(Op) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

// FailNext makes the next n write operations fail with err.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
	m.failErr = err
}

// Ops returns the operations recorded so far, including failed ones.
func (m *Memory) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Op(nil), m.ops...)
}

// Get returns a copy of a stored document.
func (m *Memory) Get(userID, coll, id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[bucket(userID, coll)][id]
	if !ok {
		return Document{}, false
	}
	return Document{ID: id, Data: cloneData(data)}, true
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(userID, coll string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[bucket(userID, coll)])
}

func bucket(userID, coll string) string { return userID + "/" + coll }

// begin records op and applies fault injection. Callers hold m.mu.
func (m *Memory) begin(ctx context.Context, op Op) error {
	m.ops = append(m.ops, op)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if m.closed {
		return fmt.Errorf("%w: store closed", ErrTransient)
	}
	if op.Kind != OpQuery && m.failN > 0 {
		m.failN--
		return m.failErr
	}
	if m.failFn != nil {
		if err := m.failFn(op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Set(ctx context.Context, userID, coll, id string, doc map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(ctx, Op{Kind: OpSet, UserID: userID, Collection: coll, ID: id}); err != nil {
		return "", err
	}
	data, err := normalize(doc, m.now())
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	delete(data, "id")

	b := bucket(userID, coll)
	if m.docs[b] == nil {
		m.docs[b] = make(map[string]map[string]any)
	}
	m.docs[b][id] = data
	return id, nil
}

func (m *Memory) Update(ctx context.Context, userID, coll, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(ctx, Op{Kind: OpUpdate, UserID: userID, Collection: coll, ID: id}); err != nil {
		return err
	}
	data, ok := m.docs[bucket(userID, coll)][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", coll, id, ErrNotFound)
	}
	resolved, err := normalize(fields, m.now())
	if err != nil {
		return err
	}
	updated := cloneData(data)
	applyFields(updated, resolved)
	delete(updated, "id")
	m.docs[bucket(userID, coll)][id] = updated
	return nil
}

func (m *Memory) Delete(ctx context.Context, userID, coll, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(ctx, Op{Kind: OpDelete, UserID: userID, Collection: coll, ID: id}); err != nil {
		return err
	}
	delete(m.docs[bucket(userID, coll)], id)
	return nil
}

func (m *Memory) Query(ctx context.Context, userID, coll string, q Query) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(ctx, Op{Kind: OpQuery, UserID: userID, Collection: coll}); err != nil {
		return nil, err
	}
	var docs []Document
	for id, data := range m.docs[bucket(userID, coll)] {
		docs = append(docs, Document{ID: id, Data: cloneData(data)})
	}
	return selectDocuments(docs, q), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
