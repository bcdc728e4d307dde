package schema

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority is the user-assigned importance bucket of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities from low (1) to high (3). Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Task is a single to-do item owned by one user.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Category    string     `json:"category,omitempty"`
	Important   bool       `json:"important"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UserID      string     `json:"userId"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updatedAt is required")
	}
	if (t.Status == StatusCompleted) != (t.CompletedAt != nil) {
		return fmt.Errorf("completedAt must be set exactly when status is %s", StatusCompleted)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults(now time.Time) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	t.Normalize(now)
}

// Normalize repairs the completion invariant: completed tasks get a
// completion time, all other tasks lose theirs.
func (t *Task) Normalize(now time.Time) {
	if t.Status == StatusCompleted {
		if t.CompletedAt == nil {
			c := now
			t.CompletedAt = &c
		}
		return
	}
	t.CompletedAt = nil
}

// LastModified returns UpdatedAt, or CreatedAt for records that were never
// updated. It is the timestamp compared by last-write-wins.
func (t *Task) LastModified() time.Time {
	if !t.UpdatedAt.IsZero() {
		return t.UpdatedAt
	}
	return t.CreatedAt
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// IsOverdue reports whether an open task's due date lies before the start
// of the day containing now.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status == StatusCompleted {
		return false
	}
	return t.DueDate.Before(startOfDay(now))
}

// TaskPatch is a partial update of a task. Nil fields are left untouched.
type TaskPatch struct {
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	Status        *Status    `json:"status,omitempty"`
	Priority      *Priority  `json:"priority,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	ClearDueDate  bool       `json:"clearDueDate,omitempty"`
	Category      *string    `json:"category,omitempty"`
	ClearCategory bool       `json:"clearCategory,omitempty"`
	Important     *bool      `json:"important,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDueDate &&
		p.Category == nil && !p.ClearCategory && p.Important == nil
}

// Validate checks the values carried by the patch.
func (p TaskPatch) Validate() error {
	if p.Title != nil && *p.Title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if p.Title != nil && len(*p.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(*p.Title))
	}
	if p.Status != nil && !p.Status.IsValid() {
		return fmt.Errorf("invalid status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", *p.Priority)
	}
	if p.DueDate != nil && p.ClearDueDate {
		return fmt.Errorf("dueDate and clearDueDate are mutually exclusive")
	}
	if p.Category != nil && p.ClearCategory {
		return fmt.Errorf("category and clearCategory are mutually exclusive")
	}
	return nil
}

// Apply writes the patch onto t, bumps UpdatedAt and keeps the completion
// invariant.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.ClearCategory {
		t.Category = ""
	}
	if p.Important != nil {
		t.Important = *p.Important
	}
	if p.Status != nil && *p.Status != t.Status {
		t.Status = *p.Status
		t.CompletedAt = nil
	}
	t.UpdatedAt = now
	t.Normalize(now)
}

// RestorePatch returns a patch that sets every user-editable field back to
// the values in t.
func RestorePatch(t *Task) TaskPatch {
	title, desc := t.Title, t.Description
	status, priority := t.Status, t.Priority
	important := t.Important
	p := TaskPatch{
		Title:       &title,
		Description: &desc,
		Status:      &status,
		Priority:    &priority,
		Important:   &important,
	}
	if t.DueDate != nil {
		d := *t.DueDate
		p.DueDate = &d
	} else {
		p.ClearDueDate = true
	}
	if t.Category != "" {
		c := t.Category
		p.Category = &c
	} else {
		p.ClearCategory = true
	}
	return p
}

// Fields renders the patch as a document field map for partial updates.
// Cleared fields map to nil. completedAt is not included; callers decide
// which clock stamps it.
func (p TaskPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Status != nil {
		fields["status"] = string(*p.Status)
	}
	if p.Priority != nil {
		fields["priority"] = string(*p.Priority)
	}
	if p.DueDate != nil {
		fields["dueDate"] = p.DueDate.UTC()
	}
	if p.ClearDueDate {
		fields["dueDate"] = nil
	}
	if p.Category != nil {
		fields["category"] = *p.Category
	}
	if p.ClearCategory {
		fields["category"] = nil
	}
	if p.Important != nil {
		fields["important"] = *p.Important
	}
	return fields
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
