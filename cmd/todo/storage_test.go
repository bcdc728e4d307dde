package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smarttodo/tasksync/internal/connectivity"
	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

func TestReattachStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	quiet := log.New(io.Discard, "", 0)

	mon := connectivity.NewMonitor(false, quiet)
	defer mon.Close()
	cfg := engine.DefaultConfig()
	cfg.Auth = engine.StaticUser("u-1")
	cfg.Logger = quiet
	eng, err := engine.New(ctx, store.NewMemory(), false, remote.NewMemory(nil), mon, cfg)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	defer eng.Close()

	task, err := eng.AddTask(ctx, schema.Task{Title: "kept in memory"})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	durable := store.NewMemory()
	var attempts atomic.Int32
	open := func(ctx context.Context) (store.Store, error) {
		if attempts.Add(1) < 3 {
			return nil, fmt.Errorf("%w: disk busy", store.ErrStorageUnavailable)
		}
		return durable, nil
	}

	if err := reattachStore(ctx, eng, open, 5*time.Millisecond, quiet); err != nil {
		t.Fatalf("reattachStore failed: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("open called %d times, want 3", got)
	}
	if !eng.Status().Durable {
		t.Fatal("engine still memory-only after reattach")
	}
	if _, err := durable.GetTask(ctx, task.ID); err != nil {
		t.Errorf("task not migrated: %v", err)
	}
	if n, _ := durable.Count(ctx, store.SyncQueue); n != 1 {
		t.Errorf("durable queue holds %d entries, want 1", n)
	}
}

func TestReattachStore_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	open := func(context.Context) (store.Store, error) {
		t.Error("open called after cancel")
		return nil, fmt.Errorf("unreachable")
	}
	if err := reattachStore(ctx, nil, open, time.Hour, log.New(io.Discard, "", 0)); err != nil {
		t.Errorf("reattachStore = %v, want nil", err)
	}
}
