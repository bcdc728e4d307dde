package backup

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/smarttodo/tasksync/internal/schema"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func sampleSnapshot() *Snapshot {
	task := &schema.Task{ID: "t-1", Title: "Buy milk", UserID: "u-1"}
	task.SetDefaults(now)
	cat := &schema.Category{ID: "c-1", Name: "Errands", UserID: "u-1"}
	cat.SetDefaults(now)
	return New([]*schema.Task{task}, []*schema.Category{cat}, now)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	want := sampleSnapshot()

	var buf bytes.Buffer
	if err := Write(&buf, want); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"version": "1.0"`) {
		t.Errorf("export lacks version field:\n%s", buf.String())
	}

	got, err := Read(&buf, now)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `nope`},
		{"missing tasks", `{"categories": []}`},
		{"missing categories", `{"tasks": []}`},
		{"null tasks", `{"tasks": null, "categories": []}`},
		{"future major version", `{"tasks": [], "categories": [], "version": "2.0"}`},
		{"garbage version", `{"tasks": [], "categories": [], "version": "one"}`},
		{"task without title", `{"tasks": [{"id": "t-1"}], "categories": []}`},
		{"duplicate ids", `{"tasks": [{"id": "t-1", "title": "a"}, {"id": "t-1", "title": "b"}], "categories": []}`},
		{"category without name", `{"tasks": [], "categories": [{"id": "c-1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in), now)
			if !errors.Is(err, ErrImportFormatInvalid) {
				t.Errorf("Read() error = %v, want ErrImportFormatInvalid", err)
			}
		})
	}
}

func TestRead_AcceptsCompatibleVersions(t *testing.T) {
	for _, v := range []string{"", "1.0", "1.3"} {
		in := `{"tasks": [{"id": "t-1", "title": "a"}], "categories": [], "version": "` + v + `"}`
		s, err := Read(strings.NewReader(in), now)
		if err != nil {
			t.Errorf("Read(version %q) failed: %v", v, err)
			continue
		}
		if s.Tasks[0].Status != schema.StatusPending {
			t.Errorf("defaults not applied: status = %q", s.Tasks[0].Status)
		}
	}
}

func TestWriteFile_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exports", FileName(now))

	if err := WriteFile(path, sampleSnapshot()); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	if filepath.Base(path) != "smart-todo-backup-2026-05-01.json" {
		t.Errorf("FileName() = %q", filepath.Base(path))
	}

	s, err := ReadFile(path, now)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if len(s.Tasks) != 1 || len(s.Categories) != 1 {
		t.Errorf("ReadFile() = %d tasks, %d categories", len(s.Tasks), len(s.Categories))
	}
}
