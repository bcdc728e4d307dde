package engine

import (
	"context"
	"errors"

	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/store"
)

var (
	// ErrAuthenticationMissing aborts a drain when no user is signed in.
	// Queued entries stay pending.
	ErrAuthenticationMissing = errors.New("authentication missing")

	// ErrOffline is returned by Drain and Flush while the monitor reports
	// no connectivity.
	ErrOffline = errors.New("offline")

	// ErrNotFound is returned by mutations on an unknown record id.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// Only transient remote failures and timeouts qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, remote.ErrTransient) {
		return true
	}

	// Deadline hit mid-request; the remote may simply have been slow
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// IsFatal returns true if the error cannot be fixed by retrying and needs
// the user: a missing sign-in, a permission error, or unusable storage.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrAuthenticationMissing) {
		return true
	}

	if errors.Is(err, remote.ErrPermission) {
		return true
	}

	if errors.Is(err, store.ErrStorageUnavailable) {
		return true
	}

	return false
}
