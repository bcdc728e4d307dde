package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smarttodo/tasksync/internal/connectivity"
	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/schema"
	"github.com/smarttodo/tasksync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Send queued changes and refresh from the remote",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		start := time.Now()
		res, err := a.eng.Flush(ctx)
		switch {
		case errors.Is(err, engine.ErrOffline):
			fmt.Printf("%s Offline, %d change(s) stay queued\n", ui.RenderWarn("⚠"), a.eng.Status().PendingChanges)
			return
		case err != nil:
			fatalf("%v", err)
		}
		fmt.Printf("%s Sync: %s in %v\n", ui.RenderPass("✓"), res, time.Since(start).Round(time.Millisecond))
	},
}

// statusReport is what 'todo status' prints.
type statusReport struct {
	Sync  engine.Status `json:"sync" yaml:"sync"`
	Stats schema.Stats  `json:"stats" yaml:"stats"`
	// StorageBytes is the size of the local store.
	StorageBytes int64 `json:"storageBytes" yaml:"storageBytes"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		report := statusReport{Sync: a.eng.Status(), Stats: a.eng.Stats()}
		size, err := a.eng.StorageUsage(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}
		report.StorageBytes = size
		output, _ := cmd.Flags().GetString("output")
		switch output {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				fatalf("%v", err)
			}
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				fatalf("%v", err)
			}
			_ = enc.Close()
		case "text", "":
			printStatus(report)
		default:
			fatalf("unknown output %q (want text, json or yaml)", output)
		}
	},
}

func printStatus(r statusReport) {
	s := r.Sync
	fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("●"))
	fmt.Printf("Connection:  %s\n", ui.OnlineBadge(s.IsOnline))
	fmt.Printf("Pending:     %d\n", s.PendingChanges)
	if s.LastSync != nil {
		fmt.Printf("Last sync:   %s\n", s.LastSync.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Last sync:   %s\n", ui.RenderMuted("never"))
	}
	if s.LastError != "" {
		fmt.Printf("Last error:  %s\n", ui.RenderFail(s.LastError))
	}
	if s.Durable {
		fmt.Printf("Storage:     %s\n", humanize.Bytes(uint64(r.StorageBytes)))
	} else {
		fmt.Printf("Storage:     %s (%s)\n", humanize.Bytes(uint64(r.StorageBytes)), ui.RenderWarn("memory only"))
	}
	fmt.Printf("Tasks:       %d (%d done, %d overdue)\n\n", r.Stats.Total, r.Stats.Completed, r.Stats.Overdue)
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and manage queued changes",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and failed changes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		pending := a.eng.PendingEntries(ctx)
		failed, err := a.eng.FailedEntries(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		if len(pending)+len(failed) == 0 {
			fmt.Println(ui.RenderMuted("Queue is empty."))
			return
		}
		for _, e := range pending {
			printEntry(e)
		}
		for _, e := range failed {
			printEntry(e)
		}
	},
}

func printEntry(e *schema.QueueEntry) {
	id, _ := e.RecordID()
	state := ui.RenderWarn(string(e.Status))
	if e.Status == schema.EntryFailed {
		state = ui.RenderFail(string(e.Status))
	}
	fmt.Printf("%5d  %-8s %-6s %-8s %s  retries=%d", e.ID, state, e.Action, e.Type, ui.ShortID(id), e.RetryCount)
	if e.LastError != "" {
		fmt.Printf("  %s", ui.RenderMuted(e.LastError))
	}
	fmt.Println()
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Requeue a failed change",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatalf("invalid entry id %q", args[0])
		}
		a := mustOpen(ctx)
		defer a.Close()

		if err := a.eng.RetryEntry(ctx, id); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Entry %d requeued\n", ui.RenderPass("✓"), id)
		a.syncNow(ctx)
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete completed changes from the queue",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		n, err := a.eng.PurgeQueue(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Purged %d completed entries\n", ui.RenderPass("✓"), n)
	},
}

var connectivityCmd = &cobra.Command{
	Use:       "connectivity <online|offline>",
	GroupID:   "sync",
	Short:     "Show or set the connectivity state",
	Long:      `Show or set the connectivity state read by every command and watched by the daemon.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"online", "offline"},
	Run: func(cmd *cobra.Command, args []string) {
		path := cfg.Connectivity.StateFile
		if len(args) == 0 {
			online, err := connectivity.ReadState(path)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Println(ui.OnlineBadge(online))
			return
		}
		var online bool
		switch args[0] {
		case "online":
			online = true
		case "offline":
		default:
			fatalf("want online or offline, got %q", args[0])
		}
		if err := connectivity.WriteState(path, online); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Now %s\n", ui.RenderPass("✓"), ui.OnlineBadge(online))
	},
}

func init() {
	statusCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queuePurgeCmd)
	rootCmd.AddCommand(syncCmd, statusCmd, queueCmd, connectivityCmd)
}
