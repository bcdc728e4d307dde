package main

import (
	"context"
	"log"
	"time"

	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/store"
)

// storeOpener opens durable local storage.
type storeOpener func(ctx context.Context) (store.Store, error)

// reattachStore retries open every interval until it succeeds, then moves
// the engine's memory-held records and queue onto the new store. It
// returns when that is done or ctx ends.
func reattachStore(ctx context.Context, eng *engine.Engine, open storeOpener, interval time.Duration, logger *log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if eng.Status().Durable {
			return nil
		}

		st, err := open(ctx)
		if err != nil {
			logger.Printf("Local storage still unavailable: %v", err)
			continue
		}
		if err := eng.AttachStore(ctx, st); err != nil {
			_ = st.Close()
			logger.Printf("Warning: %v", err)
			continue
		}
		logger.Printf("Local storage available again, changes moved to %T", st)
		return nil
	}
}
