// Package config loads the todo CLI and daemon configuration.
//
// Sources, lowest precedence first: built-in defaults, the config file
// (TOML or YAML), a .env file in the working directory, and TODOSYNC_*
// environment variables. Nested keys map to env names with "_", so
// sync.max_retries is TODOSYNC_SYNC_MAX_RETRIES.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TODOSYNC"

// Remote kinds.
const (
	RemoteMemory = "memory"
	RemoteSQLite = "sqlite"
	RemoteLibSQL = "libsql"
)

// Config is the full configuration.
type Config struct {
	User         UserConfig         `mapstructure:"user" toml:"user" yaml:"user"`
	Store        StoreConfig        `mapstructure:"store" toml:"store" yaml:"store"`
	Remote       RemoteConfig       `mapstructure:"remote" toml:"remote" yaml:"remote"`
	Sync         SyncConfig         `mapstructure:"sync" toml:"sync" yaml:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity" toml:"connectivity" yaml:"connectivity"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard" toml:"dashboard" yaml:"dashboard"`
	Log          LogConfig          `mapstructure:"log" toml:"log" yaml:"log"`
}

// UserConfig names the signed-in user. An empty ID means signed out:
// local edits work, syncing does not.
type UserConfig struct {
	ID          string `mapstructure:"id" toml:"id" yaml:"id"`
	DisplayName string `mapstructure:"display_name" toml:"display_name" yaml:"display_name"`
}

// StoreConfig locates the on-device database.
type StoreConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

// RemoteConfig selects the remote document store.
type RemoteConfig struct {
	// Kind is memory, sqlite or libsql.
	Kind string `mapstructure:"kind" toml:"kind" yaml:"kind"`
	// Path is the database file for kind sqlite.
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
	// URL and Token address a libsql server.
	URL   string `mapstructure:"url" toml:"url" yaml:"url"`
	Token string `mapstructure:"token" toml:"token,omitempty" yaml:"token,omitempty"`
}

// SyncConfig is the retry policy. Durations use time.ParseDuration syntax.
type SyncConfig struct {
	MaxRetries int      `mapstructure:"max_retries" toml:"max_retries" yaml:"max_retries"`
	Backoff    []string `mapstructure:"backoff" toml:"backoff" yaml:"backoff"`
	Interval   string   `mapstructure:"interval" toml:"interval" yaml:"interval"`
}

// ConnectivityConfig configures the connectivity state file.
type ConnectivityConfig struct {
	StateFile string `mapstructure:"state_file" toml:"state_file" yaml:"state_file"`
}

// DashboardConfig configures the daemon's status server.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" toml:"addr" yaml:"addr"`
}

// LogConfig configures log output. Without a file, logs go to stderr only
// when verbose.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose" toml:"verbose" yaml:"verbose"`
}

// DataDir returns the directory holding local state (~/.smart-todo).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".smart-todo"
	}
	return filepath.Join(home, ".smart-todo")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := DataDir()
	return &Config{
		Store: StoreConfig{Path: filepath.Join(dir, "todo.db")},
		Remote: RemoteConfig{
			Kind: RemoteSQLite,
			Path: filepath.Join(dir, "remote.db"),
		},
		Sync: SyncConfig{
			MaxRetries: 3,
			Backoff:    []string{"1s", "5s", "15s"},
			Interval:   "5m",
		},
		Connectivity: ConnectivityConfig{StateFile: filepath.Join(dir, "connectivity")},
		Dashboard:    DashboardConfig{Addr: "127.0.0.1:8765"},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration from path, which may be empty or missing, then
// applies .env and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("user.id", d.User.ID)
	v.SetDefault("user.display_name", d.User.DisplayName)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("remote.kind", d.Remote.Kind)
	v.SetDefault("remote.path", d.Remote.Path)
	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.backoff", d.Sync.Backoff)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("connectivity.state_file", d.Connectivity.StateFile)
	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.addr", d.Dashboard.Addr)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.verbose", d.Log.Verbose)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Remote.Kind {
	case RemoteMemory:
	case RemoteSQLite:
		if c.Remote.Path == "" {
			return fmt.Errorf("remote.path is required for the sqlite remote")
		}
	case RemoteLibSQL:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the libsql remote")
		}
	default:
		return fmt.Errorf("unknown remote.kind %q (want %s, %s or %s)", c.Remote.Kind, RemoteMemory, RemoteSQLite, RemoteLibSQL)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1 (got %d)", c.Sync.MaxRetries)
	}
	if _, err := c.Sync.BackoffDurations(); err != nil {
		return err
	}
	if _, err := c.Sync.IntervalDuration(); err != nil {
		return err
	}
	return nil
}

// BackoffDurations parses Backoff.
func (s SyncConfig) BackoffDurations() ([]time.Duration, error) {
	if len(s.Backoff) == 0 {
		return nil, fmt.Errorf("sync.backoff needs at least one delay")
	}
	out := make([]time.Duration, 0, len(s.Backoff))
	for _, raw := range s.Backoff {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid sync.backoff delay %q: %w", raw, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("sync.backoff delay %q is negative", raw)
		}
		out = append(out, d)
	}
	return out, nil
}

// IntervalDuration parses Interval.
func (s SyncConfig) IntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid sync.interval %q: %w", s.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("sync.interval must be positive (got %s)", s.Interval)
	}
	return d, nil
}

// WriteFile writes cfg to path as TOML through a temp file and rename.
func WriteFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
