package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSource feeds a Monitor from a state file written by the host. The
// file holds "online" or "offline"; a missing file means online.
//
// The parent directory is watched rather than the file itself so that
// creation, atomic replacement and removal are all seen.
type FileSource struct {
	path    string
	monitor *Monitor
	logger  *log.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileSource creates a source for path. It must be started with Start.
func NewFileSource(path string, monitor *Monitor, logger *log.Logger) (*FileSource, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state file path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileSource{
		path:    abs,
		monitor: monitor,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// ReadState parses the state file at path. A missing file reads as online.
func ReadState(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state file: %w", err)
	}
	return parseState(string(data))
}

func parseState(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "on", "up", "true", "1", "":
		return true, nil
	case "offline", "off", "down", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized connectivity state %q", strings.TrimSpace(s))
}

// Start applies the current file state to the monitor and begins
// watching for changes.
func (fs *FileSource) Start() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.running {
		return fmt.Errorf("file source already running")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	if err := fs.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch state directory %s: %w", dir, err)
	}
	fs.refresh()

	fs.running = true
	fs.wg.Add(1)
	go fs.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (fs *FileSource) Stop() error {
	fs.mu.Lock()
	if !fs.running {
		fs.mu.Unlock()
		return fs.watcher.Close()
	}
	fs.running = false
	fs.mu.Unlock()

	close(fs.done)
	if err := fs.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	fs.wg.Wait()
	return nil
}

// Run starts the source, blocks until ctx is done, then stops it.
func (fs *FileSource) Run(ctx context.Context) error {
	if err := fs.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return fs.Stop()
}

// IsRunning returns true if the source is currently watching.
func (fs *FileSource) IsRunning() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.running
}

func (fs *FileSource) processEvents() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.done:
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fs.path {
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			fs.refresh()

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Printf("Warning: state file watcher error: %v", err)
		}
	}
}

func (fs *FileSource) refresh() {
	online, err := ReadState(fs.path)
	if err != nil {
		fs.logger.Printf("Warning: ignoring state file %s: %v", fs.path, err)
		return
	}
	fs.monitor.SetOnline(online)
}

// WriteState writes online or offline to path. It is the host side of a
// FileSource and backs `todo daemon` tooling and tests.
func WriteState(path string, online bool) error {
	state := "offline\n"
	if online {
		state = "online\n"
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(state), 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
