// Package loadtest measures the offline-then-sync path of the engine.
//
// A run queues a batch of tasks while offline, then reconnects and drains
// the queue into an in-process remote while concurrent readers query the
// task list. It reports enqueue latency, read latency during the drain and
// total drain time, and checks that every queued task reached the remote.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smarttodo/tasksync/internal/connectivity"
	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/remote"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/store"
)

const userID = "loadtest"

// Options configures a run.
type Options struct {
	// Tasks is how many tasks are queued while offline.
	Tasks int
	// Readers is how many goroutines query the task list during the drain.
	Readers int
	// Dir holds the SQLite store. Empty uses the in-memory store.
	Dir string
	// Logger for engine activity (default: discard)
	Logger *log.Logger
}

// LatencyStats summarises a set of timed operations.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Report is the outcome of a run.
type Report struct {
	Enqueue LatencyStats
	Reads   LatencyStats
	Drain   time.Duration
	Result  engine.Result
	// Synced is the number of tasks found on the remote afterwards.
	Synced int
}

// Consistent reports whether every queued task reached the remote.
func (r *Report) Consistent(opts Options) bool {
	return r.Synced == opts.Tasks && r.Result.Failed == 0 && r.Result.Remaining == 0
}

// Run performs one offline-then-sync cycle.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Tasks < 1 {
		return nil, fmt.Errorf("at least one task is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var st store.Store = store.NewMemory()
	durable := false
	if opts.Dir != "" {
		sq, err := store.OpenContext(ctx, filepath.Join(opts.Dir, "loadtest.db"), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		st, durable = sq, true
	}

	mon := connectivity.NewMonitor(false, logger)
	defer mon.Close()
	rs := remote.NewMemory(nil)
	defer rs.Close()

	cfg := engine.DefaultConfig()
	cfg.Auth = engine.StaticUser(userID)
	cfg.Notifier = engine.LogNotifier{Logger: logger}
	cfg.Logger = logger
	eng, err := engine.New(ctx, st, durable, rs, mon, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	defer eng.Close()

	report := &Report{}

	enqueue := make([]time.Duration, 0, opts.Tasks)
	for _, t := range generateTasks(opts.Tasks) {
		start := time.Now()
		if _, err := eng.AddTask(ctx, *t); err != nil {
			return nil, fmt.Errorf("failed to queue task %s: %w", t.Title, err)
		}
		enqueue = append(enqueue, time.Since(start))
	}
	report.Enqueue = computeLatencyStats(enqueue)

	mon.SetOnline(true)

	readCtx, stopReads := context.WithCancel(ctx)
	var mu sync.Mutex
	var reads []time.Duration
	g, gctx := errgroup.WithContext(readCtx)
	for i := 0; i < opts.Readers; i++ {
		filter := readerFilters[i%len(readerFilters)]
		g.Go(func() error {
			local := make([]time.Duration, 0, 64)
			defer func() {
				mu.Lock()
				reads = append(reads, local...)
				mu.Unlock()
			}()
			for gctx.Err() == nil {
				start := time.Now()
				for _, t := range eng.Tasks(filter) {
					if t.ID == "" {
						return fmt.Errorf("reader saw a task without id")
					}
				}
				local = append(local, time.Since(start))
			}
			return nil
		})
	}

	start := time.Now()
	res, drainErr := eng.Flush(ctx)
	report.Drain = time.Since(start)
	stopReads()
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if drainErr != nil {
		return nil, fmt.Errorf("drain failed: %w", drainErr)
	}
	report.Result = res
	report.Reads = computeLatencyStats(reads)
	report.Synced = rs.Len(userID, remote.Tasks)
	return report, nil
}

var readerFilters = []schema.Filter{
	{},
	{Status: schema.StatusPending, SortBy: schema.SortPriority},
	{Important: true},
	{Category: "errands", SortBy: schema.SortDueDate},
}

// generateTasks spreads priorities, categories and due dates the way a
// real list tends to look: mostly medium, a few important.
func generateTasks(count int) []*schema.Task {
	priorities := []schema.Priority{
		schema.PriorityLow, schema.PriorityMedium, schema.PriorityMedium,
		schema.PriorityMedium, schema.PriorityHigh,
	}
	categories := []string{"", "work", "home", "errands"}
	base := time.Now().Truncate(24 * time.Hour)

	tasks := make([]*schema.Task, count)
	for i := range tasks {
		t := &schema.Task{
			Title:     fmt.Sprintf("Task %d", i),
			Priority:  priorities[i%len(priorities)],
			Category:  categories[i%len(categories)],
			Important: i%10 == 0,
		}
		if i%3 == 0 {
			due := base.Add(time.Duration(i%14-3) * 24 * time.Hour)
			t.DueDate = &due
		}
		tasks[i] = t
	}
	return tasks
}

func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Drain:    %v (%s)\n", r.Drain.Round(time.Microsecond), r.Result)
	fmt.Fprintf(w, "Synced:   %d tasks\n", r.Synced)
	printLatency(w, "Enqueue", r.Enqueue)
	printLatency(w, "Reads", r.Reads)
}

func printLatency(w io.Writer, name string, s LatencyStats) {
	fmt.Fprintf(w, "%-9s n=%d  p50=%v  p95=%v  p99=%v  max=%v\n",
		name+":", s.Count, s.P50, s.P95, s.P99, s.Max)
}
