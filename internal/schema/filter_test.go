package schema

import (
	"testing"
	"time"
)

func taskAt(id string, status Status, prio Priority, created time.Time, due *time.Time) *Task {
	t := &Task{ID: id, Title: id, Status: status, Priority: prio, CreatedAt: created, UpdatedAt: created, DueDate: due}
	t.Normalize(created)
	return t
}

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFilter_Apply(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	today := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	inThreeDays := now.AddDate(0, 0, 3)
	inTenDays := now.AddDate(0, 0, 10)

	tasks := []*Task{
		taskAt("overdue", StatusPending, PriorityHigh, now.Add(-3*time.Hour), &yesterday),
		taskAt("today", StatusInProgress, PriorityLow, now.Add(-2*time.Hour), &today),
		taskAt("soon", StatusPending, PriorityMedium, now.Add(-1*time.Hour), &inThreeDays),
		taskAt("later", StatusPending, PriorityLow, now, &inTenDays),
		taskAt("done-late", StatusCompleted, PriorityHigh, now.Add(-4*time.Hour), &yesterday),
		taskAt("undated", StatusPending, PriorityMedium, now.Add(-5*time.Hour), nil),
	}
	tasks[2].Important = true
	tasks[3].Category = "work"

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"overdue excludes completed", Filter{Due: DueOverdue}, []string{"overdue"}},
		{"today", Filter{Due: DueToday}, []string{"today"}},
		{"upcoming within a week", Filter{Due: DueUpcoming}, []string{"today", "soon"}},
		{"important", Filter{Important: true}, []string{"soon"}},
		{"category", Filter{Category: "work"}, []string{"later"}},
		{"status", Filter{Status: StatusCompleted}, []string{"done-late"}},
		{"sort by priority", Filter{Status: StatusPending, SortBy: SortPriority}, []string{"overdue", "soon", "undated", "later"}},
		{"sort by due date puts undated last", Filter{Status: StatusPending, SortBy: SortDueDate}, []string{"overdue", "soon", "later", "undated"}},
		{"sort by created newest first", Filter{Priority: PriorityLow, SortBy: SortCreatedAt}, []string{"later", "today"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(tt.filter.Apply(tasks, now))
			if !equalIDs(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -2)
	tasks := []*Task{
		taskAt("a", StatusCompleted, PriorityLow, now, nil),
		taskAt("b", StatusPending, PriorityLow, now, &past),
		taskAt("c", StatusInProgress, PriorityLow, now, nil),
	}
	tasks[0].Important = true

	s := ComputeStats(tasks, now)
	want := Stats{Total: 3, Completed: 1, Pending: 1, InProgress: 1, Overdue: 1, Important: 1, CompletionRate: 33}
	if s != want {
		t.Errorf("ComputeStats() = %+v, want %+v", s, want)
	}
}

func TestCountTasks(t *testing.T) {
	cats := []*Category{{ID: "work"}, {ID: "home", TaskCount: 9}}
	tasks := []*Task{{Category: "work"}, {Category: "work"}, {}}
	CountTasks(cats, tasks)
	if cats[0].TaskCount != 2 || cats[1].TaskCount != 0 {
		t.Errorf("counts = %d/%d, want 2/0", cats[0].TaskCount, cats[1].TaskCount)
	}
}
