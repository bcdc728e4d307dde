// Package backup reads and writes the portable JSON snapshot of a user's
// tasks and categories.
//
// Format:
//
//	{
//	  "tasks": [...],
//	  "categories": [...],
//	  "exportDate": "2026-05-01T09:00:00Z",
//	  "version": "1.0"
//	}
//
// Both arrays must be present on import. The version must share the major
// version of FormatVersion; files without a version are accepted as 1.x.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/semver"

	"github.com/smarttodo/tasksync/internal/schema"
)

// FormatVersion is written into every export.
const FormatVersion = "1.0"

// ErrImportFormatInvalid reports an unreadable or incomplete backup. The
// caller's data is left untouched when it is returned.
var ErrImportFormatInvalid = errors.New("invalid backup file format")

// Snapshot is the exported document.
type Snapshot struct {
	Tasks      []*schema.Task     `json:"tasks"`
	Categories []*schema.Category `json:"categories"`
	ExportDate time.Time          `json:"exportDate"`
	Version    string             `json:"version"`
}

// New builds a snapshot stamped with now.
func New(tasks []*schema.Task, categories []*schema.Category, now time.Time) *Snapshot {
	if tasks == nil {
		tasks = []*schema.Task{}
	}
	if categories == nil {
		categories = []*schema.Category{}
	}
	return &Snapshot{
		Tasks:      tasks,
		Categories: categories,
		ExportDate: now.UTC(),
		Version:    FormatVersion,
	}
}

// FileName is the default export file name for a given day.
func FileName(now time.Time) string {
	return fmt.Sprintf("smart-todo-backup-%s.json", now.Format("2006-01-02"))
}

// Write encodes s as indented JSON.
func Write(w io.Writer, s *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	return nil
}

// WriteFile writes s to path through a temp file and rename, so a crash
// never leaves a truncated backup.
func WriteFile(path string, s *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Read decodes and validates a snapshot. Records get defaults applied with
// now before validation. Every failure wraps ErrImportFormatInvalid.
func Read(r io.Reader, now time.Time) (*Snapshot, error) {
	var s Snapshot
	dec := json.NewDecoder(r)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFormatInvalid, err)
	}
	if s.Tasks == nil || s.Categories == nil {
		return nil, fmt.Errorf("%w: tasks and categories are required", ErrImportFormatInvalid)
	}
	if err := checkVersion(s.Version); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(s.Tasks))
	for i, t := range s.Tasks {
		if t == nil {
			return nil, fmt.Errorf("%w: task %d is null", ErrImportFormatInvalid, i)
		}
		t.SetDefaults(now)
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrImportFormatInvalid, i, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: duplicate task id %s", ErrImportFormatInvalid, t.ID)
		}
		seen[t.ID] = true
	}

	seen = make(map[string]bool, len(s.Categories))
	for i, c := range s.Categories {
		if c == nil {
			return nil, fmt.Errorf("%w: category %d is null", ErrImportFormatInvalid, i)
		}
		c.SetDefaults(now)
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: category %d: %v", ErrImportFormatInvalid, i, err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate category id %s", ErrImportFormatInvalid, c.ID)
		}
		seen[c.ID] = true
	}
	return &s, nil
}

// ReadFile opens path and calls Read.
func ReadFile(path string, now time.Time) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()
	return Read(f, now)
}

func checkVersion(v string) error {
	if v == "" {
		return nil
	}
	sv := "v" + v
	if !semver.IsValid(sv) {
		return fmt.Errorf("%w: malformed version %q", ErrImportFormatInvalid, v)
	}
	if semver.Major(sv) != semver.Major("v"+FormatVersion) {
		return fmt.Errorf("%w: unsupported version %s (want %s.x)", ErrImportFormatInvalid, v, semver.Major("v"+FormatVersion)[1:])
	}
	return nil
}
