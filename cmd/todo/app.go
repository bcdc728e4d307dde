package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/smarttodo/tasksync/internal/config"
	"github.com/smarttodo/tasksync/internal/connectivity"
	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/logging"
	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
	"github.com/smarttodo/tasksync/internal/ui"
)

// app wires the engine for one command invocation.
type app struct {
	sink   *logging.Sink
	mon    *connectivity.Monitor
	remote remote.Store
	eng    *engine.Engine
	// durable is false when local storage fell back to memory.
	durable bool
	// undoSaved is the undo history as loaded, nil when none was.
	undoSaved []byte
}

// current is closed by fatalf before exiting.
var current *app

func openApp(ctx context.Context) (*app, error) {
	sink := logging.Open(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    cfg.Log.Verbose || verbose,
	})

	online := !offline
	if online {
		state, err := connectivity.ReadState(cfg.Connectivity.StateFile)
		if err != nil {
			sink.Logger("connectivity").Printf("Warning: %v, assuming offline", err)
		}
		online = state && err == nil
	}
	mon := connectivity.NewMonitor(online, sink.Logger("connectivity"))

	durable := true
	st, err := store.OpenOrMemory(ctx, cfg.Store.Path, sink.Logger("store"))
	if err != nil {
		if st == nil {
			sink.Close()
			return nil, err
		}
		durable = false
		fmt.Fprintf(os.Stderr, "%s local storage unavailable, changes last only until exit: %v\n", ui.RenderWarn("Warning:"), err)
	}

	rs, err := openRemote(ctx, cfg.Remote, sink.Logger("remote"))
	if err != nil {
		st.Close()
		sink.Close()
		return nil, err
	}

	ecfg, err := engineConfig(cfg, sink.Logger("engine"))
	if err != nil {
		st.Close()
		rs.Close()
		sink.Close()
		return nil, err
	}
	eng, err := engine.New(ctx, st, durable, rs, mon, ecfg)
	if err != nil {
		st.Close()
		rs.Close()
		sink.Close()
		return nil, err
	}

	a := &app{sink: sink, mon: mon, remote: rs, eng: eng, durable: durable}
	if durable {
		a.restoreUndo()
	}
	current = a
	return a, nil
}

func engineConfig(c *config.Config, logger *log.Logger) (*engine.Config, error) {
	backoff, err := c.Sync.BackoffDurations()
	if err != nil {
		return nil, err
	}
	interval, err := c.Sync.IntervalDuration()
	if err != nil {
		return nil, err
	}
	ecfg := engine.DefaultConfig()
	ecfg.MaxRetries = c.Sync.MaxRetries
	ecfg.Backoff = backoff
	ecfg.Interval = interval
	ecfg.Auth = engine.StaticUser(c.User.ID)
	ecfg.Notifier = engine.NotifierFunc(printNotice)
	ecfg.Logger = logger
	return ecfg, nil
}

func openRemote(ctx context.Context, rc config.RemoteConfig, logger *log.Logger) (remote.Store, error) {
	switch rc.Kind {
	case config.RemoteMemory:
		return remote.NewMemory(nil), nil
	case config.RemoteSQLite:
		return remote.OpenSQLite(ctx, rc.Path, logger)
	case config.RemoteLibSQL:
		return remote.OpenLibSQL(ctx, rc.URL, rc.Token, logger)
	}
	return nil, fmt.Errorf("unknown remote kind %q", rc.Kind)
}

func printNotice(n engine.Notice) {
	switch n.Level {
	case engine.LevelError:
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), n.Message)
	case engine.LevelWarning:
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), n.Message)
	default:
		fmt.Fprintf(os.Stderr, "%s\n", n.Message)
	}
}

// restoreUndo restores the undo history saved by an earlier run. A damaged
// file only costs the history.
func (a *app) restoreUndo() {
	actions, data, err := loadUndo(undoFile())
	if err == nil {
		err = a.eng.RestoreUndo(actions)
	}
	if err != nil {
		a.sink.Logger("undo").Printf("Warning: %v, starting with an empty undo history", err)
		return
	}
	a.undoSaved = data
}

func (a *app) Close() {
	if a.durable {
		if err := saveUndo(undoFile(), a.eng.UndoHistory(), a.undoSaved); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	if err := a.eng.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close local store: %v\n", err)
	}
	_ = a.remote.Close()
	a.mon.Close()
	_ = a.sink.Close()
	if current == a {
		current = nil
	}
}

// syncNow drains the queue unless --no-sync is set. Being offline or
// signed out is reported, not treated as failure.
func (a *app) syncNow(ctx context.Context) {
	if noSync {
		return
	}
	res, err := a.eng.Flush(ctx)
	switch {
	case errors.Is(err, engine.ErrOffline):
		if n := a.eng.Status().PendingChanges; n > 0 {
			fmt.Printf("%s offline, %d change(s) queued\n", ui.RenderMuted("·"), n)
		}
	case errors.Is(err, engine.ErrAuthenticationMissing):
	case err != nil:
		fmt.Fprintf(os.Stderr, "%s sync failed: %v\n", ui.RenderWarn("⚠"), err)
	case res.Attempted > 0 || res.Remaining > 0:
		fmt.Printf("%s %s\n", ui.RenderMuted("·"), res)
	}
}

// mustOpen opens the app or exits.
func mustOpen(ctx context.Context) *app {
	a, err := openApp(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	return a
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if current != nil {
		current.Close()
	}
	os.Exit(1)
}

// resolveTask finds a task by full id or unique id prefix.
func (a *app) resolveTask(ref string) *schema.Task {
	var matches []*schema.Task
	for _, t := range a.eng.Tasks(schema.Filter{}) {
		if t.ID == ref {
			return t
		}
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		fatalf("no task matches %q", ref)
	case 1:
		return matches[0]
	}
	fatalf("%q matches %d tasks, use a longer id", ref, len(matches))
	return nil
}

// resolveTasks resolves each ref with resolveTask.
func (a *app) resolveTasks(refs []string) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, a.resolveTask(ref).ID)
	}
	return ids
}

// resolveCategory finds a category by id, id prefix or exact name.
func (a *app) resolveCategory(ref string) *schema.Category {
	var matches []*schema.Category
	for _, c := range a.eng.Categories() {
		if c.ID == ref || strings.EqualFold(c.Name, ref) {
			return c
		}
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		fatalf("no category matches %q", ref)
	case 1:
		return matches[0]
	}
	fatalf("%q matches %d categories, use a longer id", ref, len(matches))
	return nil
}
