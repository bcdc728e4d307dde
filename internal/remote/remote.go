// Package remote adapts the remote document database the engine
// synchronizes with.
//
// Documents live under a user: (userID, collection, id). Values are
// JSON-shaped (string, float64, bool, nil, nested maps and slices). The
// ServerTimestamp sentinel in Set and Update payloads is replaced by the
// remote's clock, so createdAt/updatedAt/completedAt reflect server time.
//
// Errors are classified with the sentinels below; anything wrapping
// ErrTransient is worth retrying.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTransient reports a failure that may succeed on retry, such as a
	// network error or an unavailable server.
	ErrTransient = errors.New("remote temporarily unavailable")

	// ErrNotFound is returned by Update when the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrPermission reports that the user may not touch the document.
	ErrPermission = errors.New("permission denied")
)

// Collection names used by the sync engine.
const (
	Tasks      = "tasks"
	Categories = "categories"
	Users      = "users"
)

type serverTimestamp struct{}

func (serverTimestamp) String() string { return "ServerTimestamp" }

// ServerTimestamp is a field value that the remote replaces with its own
// current time when the write is applied.
var ServerTimestamp any = serverTimestamp{}

// Document is one stored record.
type Document struct {
	ID   string
	Data map[string]any
}

// Cond is an equality filter on a top-level field.
type Cond struct {
	Field string
	Value any
}

// Query selects documents from one collection.
type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is the remote document store contract.
type Store interface {
	// Set creates or replaces a document and returns its id. An empty id
	// asks the remote to generate one.
	Set(ctx context.Context, userID, coll, id string, doc map[string]any) (string, error)

	// Update merges fields into an existing document. Keys may be dotted
	// paths into nested maps; a nil value removes the field.
	Update(ctx context.Context, userID, coll, id string, fields map[string]any) error

	// Delete removes a document. Deleting a missing document succeeds.
	Delete(ctx context.Context, userID, coll, id string) error

	Query(ctx context.Context, userID, coll string, q Query) ([]Document, error)

	Close() error
}

// Encode renders v as a document map via its JSON form.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from d's data, with d.ID stored under "id".
func Decode(d Document, v any) error {
	data := make(map[string]any, len(d.Data)+1)
	for k, val := range d.Data {
		data[k] = val
	}
	data["id"] = d.ID
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	return nil
}
