package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
)

// OpenOrMemory opens the durable store at path. When that fails with
// ErrStorageUnavailable it returns a memory store together with the error,
// which callers treat as a warning: the application keeps working and data
// is lost on exit.
func OpenOrMemory(ctx context.Context, path string, logger *log.Logger) (Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	db, err := OpenContext(ctx, path, logger)
	if err == nil {
		return db, nil
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		return nil, err
	}
	logger.Printf("Warning: durable storage unavailable, continuing in memory only: %v", err)
	return NewMemory(), err
}

// CopyAll copies every task, category and queue entry from src into dst.
// Queue entries are appended in FIFO order and receive new ids in dst.
func CopyAll(ctx context.Context, dst, src Store) error {
	tasks, err := src.ListTasks(ctx, TaskQuery{})
	if err != nil {
		return fmt.Errorf("failed to read tasks: %w", err)
	}
	for _, t := range tasks {
		if err := dst.PutTask(ctx, t); err != nil {
			return fmt.Errorf("failed to copy task %s: %w", t.ID, err)
		}
	}

	cats, err := src.ListCategories(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read categories: %w", err)
	}
	for _, c := range cats {
		if err := dst.PutCategory(ctx, c); err != nil {
			return fmt.Errorf("failed to copy category %s: %w", c.ID, err)
		}
	}

	entries, err := src.ListEntries(ctx, EntryQuery{})
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	for _, e := range entries {
		if _, err := dst.AppendEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to copy queue entry %d: %w", e.ID, err)
		}
	}
	return nil
}
