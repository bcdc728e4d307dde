package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// isolate runs the test in an empty directory so no stray .env is read.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(filepath.Join(dir, "nope.toml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Sync.MaxRetries)
	}
}

func TestWriteFileThenLoad(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")

	want := Default()
	want.User.ID = "u-1"
	want.Remote.Kind = RemoteMemory
	want.Sync.MaxRetries = 5
	want.Sync.Backoff = []string{"2s", "10s"}
	want.Dashboard.Enabled = true
	if err := WriteFile(path, want); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	data := `
user:
  id: u-7
remote:
  kind: libsql
  url: libsql://todo.example.turso.io
sync:
  backoff: ["500ms", "2s"]
  interval: 1m
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.User.ID != "u-7" || cfg.Remote.Kind != RemoteLibSQL || cfg.Remote.URL != "libsql://todo.example.turso.io" {
		t.Errorf("Load() = %+v", cfg)
	}
	backoff, err := cfg.Sync.BackoffDurations()
	if err != nil {
		t.Fatalf("BackoffDurations() failed: %v", err)
	}
	if len(backoff) != 2 || backoff[0].String() != "500ms" {
		t.Errorf("BackoffDurations() = %v", backoff)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("TODOSYNC_SYNC_MAX_RETRIES", "7")
	t.Setenv("TODOSYNC_SYNC_BACKOFF", "1s,3s")
	t.Setenv("TODOSYNC_REMOTE_KIND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", cfg.Sync.MaxRetries)
	}
	if diff := cmp.Diff([]string{"1s", "3s"}, cfg.Sync.Backoff); diff != "" {
		t.Errorf("Backoff mismatch (-want +got):\n%s", diff)
	}
	if cfg.Remote.Kind != RemoteMemory {
		t.Errorf("Remote.Kind = %q, want memory", cfg.Remote.Kind)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	t.Cleanup(func() { os.Unsetenv("TODOSYNC_USER_ID") })
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TODOSYNC_USER_ID=u-42\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.User.ID != "u-42" {
		t.Errorf("User.ID = %q, want u-42", cfg.User.ID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"unknown remote", func(c *Config) { c.Remote.Kind = "firestore" }, "unknown remote.kind"},
		{"libsql without url", func(c *Config) { c.Remote.Kind = RemoteLibSQL }, "remote.url"},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }, "max_retries"},
		{"bad backoff", func(c *Config) { c.Sync.Backoff = []string{"soon"} }, "sync.backoff"},
		{"no backoff", func(c *Config) { c.Sync.Backoff = nil }, "sync.backoff"},
		{"zero interval", func(c *Config) { c.Sync.Interval = "0s" }, "sync.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
