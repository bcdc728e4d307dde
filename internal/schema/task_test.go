package schema

import (
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestTask_Validate(t *testing.T) {
	now := time.Now()
	done := now.Add(-time.Hour)

	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid task",
			task: Task{
				ID: "t-1", Title: "Buy milk", Status: StatusPending, Priority: PriorityMedium,
				CreatedAt: now, UpdatedAt: now, UserID: "u-1",
			},
		},
		{
			name: "valid completed task",
			task: Task{
				ID: "t-1", Title: "Buy milk", Status: StatusCompleted, Priority: PriorityLow,
				CreatedAt: now, UpdatedAt: now, CompletedAt: &done,
			},
		},
		{
			name:    "missing id",
			task:    Task{Title: "x", Status: StatusPending, Priority: PriorityLow, CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name:    "missing title",
			task:    Task{ID: "t-1", Status: StatusPending, Priority: PriorityLow, CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			task:    Task{ID: "t-1", Title: strings.Repeat("a", 501), Status: StatusPending, Priority: PriorityLow, CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name:    "unknown status",
			task:    Task{ID: "t-1", Title: "x", Status: "open", Priority: PriorityLow, CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "invalid status",
		},
		{
			name:    "unknown priority",
			task:    Task{ID: "t-1", Title: "x", Status: StatusPending, Priority: "urgent", CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "invalid priority",
		},
		{
			name:    "completed without completedAt",
			task:    Task{ID: "t-1", Title: "x", Status: StatusCompleted, Priority: PriorityLow, CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "completedAt must be set",
		},
		{
			name:    "completedAt on pending task",
			task:    Task{ID: "t-1", Title: "x", Status: StatusPending, Priority: PriorityLow, CreatedAt: now, UpdatedAt: now, CompletedAt: &done},
			wantErr: true,
			errMsg:  "completedAt must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestTask_SetDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	task := Task{ID: "t-1", Title: "x"}
	task.SetDefaults(now)

	if task.Status != StatusPending {
		t.Errorf("Status = %q, want %q", task.Status, StatusPending)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want %q", task.Priority, PriorityMedium)
	}
	if !task.CreatedAt.Equal(now) || !task.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", task.CreatedAt, task.UpdatedAt, now)
	}
	if err := task.Validate(); err != nil {
		t.Errorf("defaulted task should be valid: %v", err)
	}
}

func TestTaskPatch_ApplyKeepsCompletionInvariant(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	later := created.Add(time.Hour)
	task := Task{ID: "t-1", Title: "x", Status: StatusPending, Priority: PriorityLow, CreatedAt: created, UpdatedAt: created}

	completed := StatusCompleted
	TaskPatch{Status: &completed}.Apply(&task, later)
	if task.CompletedAt == nil || !task.CompletedAt.Equal(later) {
		t.Fatalf("CompletedAt = %v, want %v", task.CompletedAt, later)
	}
	if !task.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", task.UpdatedAt, later)
	}

	reopened := StatusInProgress
	TaskPatch{Status: &reopened}.Apply(&task, later.Add(time.Minute))
	if task.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil after reopening", task.CompletedAt)
	}
	if err := task.Validate(); err != nil {
		t.Errorf("patched task should be valid: %v", err)
	}
}

func TestTaskPatch_Fields(t *testing.T) {
	due := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	p := TaskPatch{Title: strPtr("New"), DueDate: &due, ClearCategory: true}
	fields := p.Fields()

	if fields["title"] != "New" {
		t.Errorf("title = %v, want New", fields["title"])
	}
	if got, ok := fields["dueDate"].(time.Time); !ok || !got.Equal(due) {
		t.Errorf("dueDate = %v, want %v", fields["dueDate"], due)
	}
	if v, ok := fields["category"]; !ok || v != nil {
		t.Errorf("category = %v (present=%v), want explicit nil", v, ok)
	}
	if _, ok := fields["status"]; ok {
		t.Errorf("status should be absent from fields")
	}
}

func TestRestorePatch(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	due := created.Add(48 * time.Hour)
	prev := Task{ID: "t-1", Title: "Old", Description: "d", Status: StatusPending, Priority: PriorityLow, DueDate: &due, CreatedAt: created, UpdatedAt: created}

	cur := prev
	cur.Title = "New"
	cur.Priority = PriorityHigh
	cur.DueDate = nil
	cur.Category = "work"
	cur.Important = true

	p := RestorePatch(&prev)
	if err := p.Validate(); err != nil {
		t.Fatalf("RestorePatch() is invalid: %v", err)
	}
	if !p.ClearCategory || p.Category != nil {
		t.Errorf("RestorePatch() should clear the category")
	}
	p.Apply(&cur, created.Add(time.Hour))
	if cur.Title != "Old" || cur.Priority != PriorityLow || cur.Category != "" || cur.Important {
		t.Errorf("restored task = %+v", cur)
	}
	if cur.DueDate == nil || !cur.DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", cur.DueDate, due)
	}
}

func TestTaskPatch_Validate(t *testing.T) {
	due := time.Now()
	bad := Status("archived")
	tests := []struct {
		name    string
		patch   TaskPatch
		wantErr bool
	}{
		{"empty", TaskPatch{}, false},
		{"title", TaskPatch{Title: strPtr("ok")}, false},
		{"empty title", TaskPatch{Title: strPtr("")}, true},
		{"bad status", TaskPatch{Status: &bad}, true},
		{"due and clear", TaskPatch{DueDate: &due, ClearDueDate: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.patch.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTask_Clone(t *testing.T) {
	due := time.Now()
	orig := &Task{ID: "t-1", DueDate: &due}
	c := orig.Clone()
	*c.DueDate = due.Add(time.Hour)
	if !orig.DueDate.Equal(due) {
		t.Errorf("Clone shares DueDate with original")
	}
}

func TestQueueEntry_RecordID(t *testing.T) {
	payload, err := NewUpdatePayload("t-9", TaskPatch{Title: strPtr("x")})
	if err != nil {
		t.Fatalf("NewUpdatePayload() error = %v", err)
	}
	e := &QueueEntry{ID: 1, Type: TypeTask, Action: ActionUpdate, Payload: payload, Timestamp: time.Now(), Status: EntryPending}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	id, err := e.RecordID()
	if err != nil {
		t.Fatalf("RecordID() error = %v", err)
	}
	if id != "t-9" {
		t.Errorf("RecordID() = %q, want t-9", id)
	}
}
