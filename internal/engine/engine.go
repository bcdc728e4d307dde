package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/smarttodo/tasksync/internal/connectivity"
	"github.com/smarttodo/tasksync/internal/feed"
	"github.com/smarttodo/tasksync/internal/queue"
	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/sched"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

// Trigger names what started a drain.
type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerConnectivity Trigger = "connectivity"
	TriggerPeriodic     Trigger = "periodic"
	TriggerManual       Trigger = "manual"
	TriggerEnqueue      Trigger = "enqueue"
	TriggerRetry        Trigger = "retry"
)

const (
	retryKey    = "retry"
	periodicKey = "periodic"
)

// Status is the sync summary shown to the user.
type Status struct {
	IsOnline       bool       `json:"isOnline" yaml:"isOnline"`
	IsSyncing      bool       `json:"isSyncing" yaml:"isSyncing"`
	PendingChanges int        `json:"pendingChanges" yaml:"pendingChanges"`
	LastSync       *time.Time `json:"lastSync" yaml:"lastSync"`
	LastError      string     `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	Durable        bool       `json:"durable" yaml:"durable"`
}

// ChangeKind classifies a ChangeEvent.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// ChangeEvent reports one record change in the local cache. Exactly one of
// Task and Category is set, matching Collection.
type ChangeEvent struct {
	Kind       ChangeKind       `json:"kind"`
	Collection store.Collection `json:"collection"`
	ID         string           `json:"id"`
	Task       *schema.Task     `json:"task,omitempty"`
	Category   *schema.Category `json:"category,omitempty"`
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      *Config
	queue    *queue.Queue
	remote   remote.Store
	monitor  *connectivity.Monitor
	sched    *sched.Scheduler
	auth     AuthProvider
	notifier Notifier
	logger   *log.Logger

	changes  *feed.Broker[ChangeEvent]
	statuses *feed.Broker[Status]
	kicks    chan Trigger

	mu          sync.Mutex
	st          store.Store
	durable     bool
	tasks       map[string]*schema.Task
	categories  map[string]*schema.Category
	profile     *schema.Profile
	syncing     bool
	running     bool
	closed      bool
	lastSync    time.Time
	lastErr     string
	authWarned  bool
	retryHandle *sched.Handle
	undo        []UndoAction
}

// New creates an engine over a local store, a remote and a connectivity
// monitor, and loads the cached records and pending queue from st.
//
// durable reports whether st survives restarts; a memory store handed in
// after store.OpenOrMemory fell back should pass false so AttachStore can
// migrate it later.
//
// The engine owns st and closes it in Close.
func New(ctx context.Context, st store.Store, durable bool, rs remote.Store, mon *connectivity.Monitor, cfg *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if rs == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if mon == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	auth := cfg.Auth
	if auth == nil {
		auth = StaticUser("")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	scheduler := sched.New(cfg.Clock)

	e := &Engine{
		cfg:        cfg,
		queue:      queue.New(st, queue.WithClock(scheduler.Now), queue.WithLogger(logger)),
		remote:     rs,
		monitor:    mon,
		sched:      scheduler,
		auth:       auth,
		notifier:   notifier,
		logger:     logger,
		changes:    feed.NewBroker[ChangeEvent](256, logger),
		statuses:   feed.NewBroker[Status](16, logger),
		kicks:      make(chan Trigger, 1),
		st:         st,
		durable:    durable,
		tasks:      make(map[string]*schema.Task),
		categories: make(map[string]*schema.Category),
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	tasks, err := e.st.ListTasks(ctx, store.TaskQuery{})
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	cats, err := e.st.ListCategories(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}
	if err := e.queue.Load(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tasks {
		e.tasks[t.ID] = t
	}
	for _, c := range cats {
		e.categories[c.ID] = c
	}
	e.logger.Printf("Loaded %d tasks, %d categories, %d pending changes", len(tasks), len(cats), e.queue.PendingCount())
	return nil
}

func (e *Engine) now() time.Time { return e.sched.Now() }

// Run drives the engine until ctx is done: it drains on connectivity
// restoration, on the periodic timer, on retry timers and after enqueues.
// Only one Run may be active.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	sub := e.monitor.Subscribe()
	defer sub.Unsubscribe()

	e.armPeriodic()
	e.logger.Printf("Sync engine started (interval %s)", e.cfg.Interval)
	if e.monitor.Online() {
		e.kick(TriggerStartup)
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Println("Sync engine stopping")
			return nil

		case tr, ok := <-sub.Events():
			if !ok {
				return nil
			}
			e.publishStatus()
			if tr.Online {
				e.runDrain(ctx, TriggerConnectivity)
			}

		case reason := <-e.kicks:
			e.runDrain(ctx, reason)
		}
	}
}

func (e *Engine) runDrain(ctx context.Context, reason Trigger) {
	res, err := e.Drain(ctx, reason)
	switch {
	case err == nil:
		if !res.Skipped {
			e.logger.Printf("Sync (%s): %s", reason, res)
		}
	case errors.Is(err, ErrOffline):
	default:
		e.logger.Printf("Sync (%s) failed: %v", reason, err)
	}
}

// kick requests a drain from the Run loop without blocking. Requests
// coalesce while one is already waiting.
func (e *Engine) kick(reason Trigger) {
	select {
	case e.kicks <- reason:
	default:
	}
}

func (e *Engine) armPeriodic() {
	e.sched.After(periodicKey, e.cfg.Interval, func() {
		if e.queue.PendingCount() > 0 {
			e.kick(TriggerPeriodic)
		}
		e.armPeriodic()
	})
}

// Close cancels every scheduled retry and timer, ends all subscriptions
// and closes the local store. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	st := e.st
	e.mu.Unlock()

	n := e.sched.CancelAll(true)
	if n > 0 {
		e.logger.Printf("Cancelled %d scheduled tasks", n)
	}
	e.changes.Close()
	e.statuses.Close()
	return st.Close()
}

// Status returns the current sync summary.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	s := Status{
		IsOnline:       e.monitor.Online(),
		IsSyncing:      e.syncing,
		PendingChanges: e.queue.PendingCount(),
		LastError:      e.lastErr,
		Durable:        e.durable,
	}
	if !e.lastSync.IsZero() {
		ls := e.lastSync
		s.LastSync = &ls
	}
	return s
}

func (e *Engine) publishStatus() {
	e.mu.Lock()
	s := e.statusLocked()
	e.mu.Unlock()
	e.statuses.Publish(s)
}

// SubscribeStatus streams a Status snapshot on every change of the sync
// summary.
func (e *Engine) SubscribeStatus() *feed.Subscription[Status] {
	return e.statuses.Subscribe(nil)
}

// Subscribe streams changes to one collection. match may be nil.
func (e *Engine) Subscribe(coll store.Collection, match func(ChangeEvent) bool) *feed.Subscription[ChangeEvent] {
	return e.changes.Subscribe(func(ev ChangeEvent) bool {
		if ev.Collection != coll {
			return false
		}
		return match == nil || match(ev)
	})
}

// AttachStore moves the engine from a memory-only store onto durable,
// copying every cached record and queued entry across.
func (e *Engine) AttachStore(ctx context.Context, durable store.Store) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.durable {
		return fmt.Errorf("engine already uses durable storage")
	}
	if err := store.CopyAll(ctx, durable, e.st); err != nil {
		return fmt.Errorf("failed to migrate to durable storage: %w", err)
	}
	if err := e.queue.Attach(ctx, durable); err != nil {
		return err
	}
	old := e.st
	e.st = durable
	e.durable = true
	if err := old.Close(); err != nil {
		e.logger.Printf("Warning: failed to close memory store: %v", err)
	}
	e.logger.Printf("Attached durable storage")
	return nil
}

// Clear drops the local cache and every queued change. Remote data is not
// touched and comes back with the next pull.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.clearLocked(ctx); err != nil {
		return err
	}
	e.statuses.Publish(e.statusLocked())
	return nil
}

func (e *Engine) clearLocked(ctx context.Context) error {
	if err := e.st.Clear(ctx, store.Tasks, store.Categories); err != nil {
		return fmt.Errorf("failed to clear local data: %w", err)
	}
	if err := e.queue.Clear(ctx); err != nil {
		return err
	}
	for id, t := range e.tasks {
		e.changes.Publish(ChangeEvent{Kind: Removed, Collection: store.Tasks, ID: id, Task: t.Clone()})
	}
	for id, c := range e.categories {
		e.changes.Publish(ChangeEvent{Kind: Removed, Collection: store.Categories, ID: id, Category: c.Clone()})
	}
	e.tasks = make(map[string]*schema.Task)
	e.categories = make(map[string]*schema.Category)
	e.undo = nil
	if e.retryHandle != nil {
		e.retryHandle.Cancel()
		e.retryHandle = nil
	}
	return nil
}

// RetryDue reports when the next retry drain is scheduled.
func (e *Engine) RetryDue() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryHandle == nil || !e.retryHandle.Pending() {
		return time.Time{}, false
	}
	return e.retryHandle.Due(), true
}
