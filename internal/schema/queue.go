package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryType names the kind of record a queue entry mutates.
type EntryType string

const (
	TypeTask     EntryType = "task"
	TypeCategory EntryType = "category"
	TypeUser     EntryType = "user"
)

// IsValid reports whether t is a known entry type.
func (t EntryType) IsValid() bool {
	switch t {
	case TypeTask, TypeCategory, TypeUser:
		return true
	}
	return false
}

// Action is the mutation recorded by a queue entry.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// EntryStatus tracks a queue entry through remote confirmation.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// QueueEntry is one pending mutation waiting for remote confirmation.
type QueueEntry struct {
	ID         int64           `json:"id"`
	Type       EntryType       `json:"type"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     EntryStatus     `json:"status"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// Validate checks if the QueueEntry has valid field values.
func (e *QueueEntry) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid entry type %q", e.Type)
	}
	if !e.Action.IsValid() {
		return fmt.Errorf("invalid action %q", e.Action)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Clone returns a copy of e that shares no payload bytes with it.
func (e *QueueEntry) Clone() *QueueEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}

// RecordRef is the payload of delete entries.
type RecordRef struct {
	ID string `json:"id"`
}

// UpdatePayload is the payload of update entries.
type UpdatePayload struct {
	ID      string          `json:"id"`
	Updates json.RawMessage `json:"updates"`
}

// RecordID extracts the id of the record an entry mutates. Profile
// entries have no record id and return "".
func (e *QueueEntry) RecordID() (string, error) {
	var ref RecordRef
	if err := json.Unmarshal(e.Payload, &ref); err != nil {
		return "", fmt.Errorf("failed to decode payload of entry %d: %w", e.ID, err)
	}
	return ref.ID, nil
}

// NewUpdatePayload encodes an update entry payload for record id.
func NewUpdatePayload(id string, patch any) (json.RawMessage, error) {
	updates, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal updates for %s: %w", id, err)
	}
	return json.Marshal(UpdatePayload{ID: id, Updates: updates})
}

// NewDeletePayload encodes a delete entry payload for record id.
func NewDeletePayload(id string) (json.RawMessage, error) {
	return json.Marshal(RecordRef{ID: id})
}
