package schema

import (
	"sort"
	"time"
)

// DueWindow selects tasks by due date relative to today.
type DueWindow string

const (
	DueToday    DueWindow = "today"
	DueOverdue  DueWindow = "overdue"
	DueUpcoming DueWindow = "upcoming"
)

// SortBy names the ordering applied by Filter.
type SortBy string

const (
	SortNone      SortBy = ""
	SortDueDate   SortBy = "dueDate"
	SortPriority  SortBy = "priority"
	SortCreatedAt SortBy = "createdAt"
)

// Filter narrows and orders a task list. Zero values match everything.
type Filter struct {
	Status    Status
	Priority  Priority
	Category  string
	Important bool
	Due       DueWindow
	SortBy    SortBy
}

// Apply returns the tasks matching f, ordered by f.SortBy. The input slice
// is not modified.
func (f Filter) Apply(tasks []*Task, now time.Time) []*Task {
	today := startOfDay(now)
	nextWeek := today.AddDate(0, 0, 7)

	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Priority != "" && t.Priority != f.Priority {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.Important && !t.Important {
			continue
		}
		if f.Due != "" && !matchesDue(t, f.Due, today, nextWeek) {
			continue
		}
		out = append(out, t)
	}

	switch f.SortBy {
	case SortDueDate:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].DueDate, out[j].DueDate
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return a.Before(*b)
		})
	case SortPriority:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		})
	case SortCreatedAt:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	return out
}

func matchesDue(t *Task, w DueWindow, today, nextWeek time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	due := *t.DueDate
	switch w {
	case DueToday:
		return startOfDay(due.In(today.Location())).Equal(today)
	case DueOverdue:
		return t.Status != StatusCompleted && due.Before(today)
	case DueUpcoming:
		return t.Status != StatusCompleted && due.After(today) && !due.After(nextWeek)
	}
	return true
}

// Stats summarises a task list.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"`
	InProgress     int `json:"inProgress"`
	Overdue        int `json:"overdue"`
	Important      int `json:"important"`
	CompletionRate int `json:"completionRate"`
}

// ComputeStats counts tasks by state. CompletionRate is a rounded
// percentage.
func ComputeStats(tasks []*Task, now time.Time) Stats {
	var s Stats
	s.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		}
		if t.IsOverdue(now) {
			s.Overdue++
		}
		if t.Important {
			s.Important++
		}
	}
	if s.Total > 0 {
		s.CompletionRate = (s.Completed*100 + s.Total/2) / s.Total
	}
	return s
}
