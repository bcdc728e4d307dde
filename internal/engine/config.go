package engine

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/smarttodo/tasksync/internal/sched"
)

// Config holds configuration for the engine.
type Config struct {
	// MaxRetries is how many failed attempts an entry gets before it is
	// marked failed.
	MaxRetries int

	// Backoff is the delay before retry n (1-based) at index n-1. The last
	// delay is reused when there are more retries than delays.
	Backoff []time.Duration

	// Interval is the period of the background drain timer.
	Interval time.Duration

	// UndoSteps bounds the undo history. Zero turns undo off.
	UndoSteps int

	// Auth reports the signed-in user. Drains abort while it returns "".
	Auth AuthProvider

	// Notifier receives user-facing notices.
	Notifier Notifier

	// Clock drives scheduled retries and the periodic timer.
	Clock sched.Clock

	// Logger for engine activity
	Logger *log.Logger
}

// DefaultConfig returns the stock retry policy: three attempts, backing off
// 1s, 5s and 15s, with a five minute background drain. Ten task mutations
// can be undone.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
		Interval:   5 * time.Minute,
		UndoSteps:  10,
		Logger:     log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Validate checks the retry policy.
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1 (got %d)", c.MaxRetries)
	}
	if len(c.Backoff) == 0 {
		return fmt.Errorf("at least one backoff delay is required")
	}
	for i, d := range c.Backoff {
		if d < 0 {
			return fmt.Errorf("backoff delay %d is negative", i+1)
		}
	}
	if c.UndoSteps < 0 {
		return fmt.Errorf("undo steps cannot be negative (got %d)", c.UndoSteps)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive (got %s)", c.Interval)
	}
	return nil
}

// backoff returns the delay before the given retry (1-based).
func (c *Config) backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > len(c.Backoff) {
		return c.Backoff[len(c.Backoff)-1]
	}
	return c.Backoff[retry-1]
}
