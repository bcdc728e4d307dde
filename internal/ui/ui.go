// Package ui styles terminal output for the todo CLI.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/smarttodo/tasksync/internal/schema"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	priorityStyles = map[schema.Priority]lipgloss.Style{
		schema.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		schema.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		schema.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

func init() {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal(os.Stdout) {
		SetColor(false)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SetColor turns styling on or off for all Render functions.
func SetColor(enabled bool) {
	if enabled {
		lipgloss.SetColorProfile(termenv.ANSI256)
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderHeader(s string) string { return headerStyle.Render(s) }

// RenderPriority colours a priority label.
func RenderPriority(p schema.Priority) string {
	style, ok := priorityStyles[p]
	if !ok {
		return string(p)
	}
	return style.Render(string(p))
}

// TaskLine renders one task for list output:
//
//	[x] Buy milk  (high, due 2026-05-04, !)  3f2c…
func TaskLine(t *schema.Task, now time.Time) string {
	box := "[ ]"
	switch t.Status {
	case schema.StatusCompleted:
		box = RenderPass("[x]")
	case schema.StatusInProgress:
		box = RenderAccent("[~]")
	}

	title := t.Title
	if t.Status == schema.StatusCompleted {
		title = RenderMuted(title)
	}

	details := []string{RenderPriority(t.Priority)}
	if t.DueDate != nil {
		due := "due " + t.DueDate.Local().Format("2006-01-02")
		if t.IsOverdue(now) {
			due = RenderFail(due + " overdue")
		}
		details = append(details, due)
	}
	if t.Important {
		details = append(details, RenderWarn("!"))
	}

	return fmt.Sprintf("%s %s  (%s)  %s", box, title, strings.Join(details, ", "), RenderMuted(ShortID(t.ID)))
}

// ShortID abbreviates a record id for display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// OnlineBadge renders the connectivity state.
func OnlineBadge(online bool) string {
	if online {
		return RenderPass("online")
	}
	return RenderWarn("offline")
}
