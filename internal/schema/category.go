package schema

import (
	"fmt"
	"time"
)

// Category groups tasks under a named, coloured label.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	// TaskCount is derived from the task list; see CountTasks.
	TaskCount int `json:"taskCount"`
}

// Validate checks if the Category has valid field values.
func (c *Category) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Name) > 100 {
		return fmt.Errorf("name must be 100 characters or less (got %d)", len(c.Name))
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Category) SetDefaults(now time.Time) {
	if c.Color == "" {
		c.Color = "#6c757d"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
}

// LastModified returns UpdatedAt, falling back to CreatedAt.
func (c *Category) LastModified() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Clone returns a copy of c.
func (c *Category) Clone() *Category {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// CategoryPatch is a partial update of a category.
type CategoryPatch struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p CategoryPatch) IsEmpty() bool {
	return p.Name == nil && p.Color == nil
}

// Validate checks the values carried by the patch.
func (p CategoryPatch) Validate() error {
	if p.Name != nil && *p.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	return nil
}

// Apply writes the patch onto c and bumps UpdatedAt.
func (p CategoryPatch) Apply(c *Category, now time.Time) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
	c.UpdatedAt = now
}

// Fields renders the patch as a document field map.
func (p CategoryPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Color != nil {
		fields["color"] = *p.Color
	}
	return fields
}

// CountTasks recomputes TaskCount on every category from tasks.
func CountTasks(categories []*Category, tasks []*Task) {
	counts := make(map[string]int, len(categories))
	for _, t := range tasks {
		if t.Category != "" {
			counts[t.Category]++
		}
	}
	for _, c := range categories {
		c.TaskCount = counts[c.ID]
	}
}
