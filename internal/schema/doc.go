// Package schema defines the records exchanged between the local store,
// the sync queue and the remote document store.
//
// # Records
//
// Tasks and categories are stored locally and remotely as flat JSON
// documents keyed by their ID:
//
//	{
//	  "id": "0b9f5c2e-6a43-4a57-9d59-0f1d9a4c1e2b",
//	  "title": "Buy milk",
//	  "status": "pending",
//	  "priority": "medium",
//	  "important": false,
//	  "createdAt": "2026-01-10T07:36:29Z",
//	  "updatedAt": "2026-01-10T07:36:29Z",
//	  "userId": "u-42"
//	}
//
// The same ID is used on-device and remotely and never changes once
// assigned. Whole-record last-write-wins is decided on UpdatedAt.
//
// # Queue entries
//
// Every local mutation is recorded as a QueueEntry until the remote store
// confirms it. Payload shapes:
//
//	add     full record
//	update  {"id": "...", "updates": {...patch...}}
//	delete  {"id": "..."}
//
// # Invariants
//
//   - Task.CompletedAt is set if and only if Task.Status is completed
//   - record IDs are immutable
//   - Category.TaskCount is derived and never authoritative
package schema
