package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smarttodo/tasksync/internal/loadtest"
	"github.com/smarttodo/tasksync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "setup",
	Short:   "Measure offline queueing and sync throughput",
	Long: `Queue tasks offline, reconnect, and time the drain into an in-process
remote while concurrent readers query the task list.

Nothing touches your own data: the run uses a scratch store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		tasks, _ := cmd.Flags().GetInt("tasks")
		readers, _ := cmd.Flags().GetInt("readers")
		useSQLite, _ := cmd.Flags().GetBool("sqlite")

		opts := loadtest.Options{Tasks: tasks, Readers: readers}
		if useSQLite {
			dir, err := os.MkdirTemp("", "todo-bench-")
			if err != nil {
				fatalf("%v", err)
			}
			defer os.RemoveAll(dir)
			opts.Dir = dir
		}

		fmt.Printf("%s Queueing %d tasks offline, %d readers during drain\n\n", ui.RenderAccent("●"), tasks, readers)
		report, err := loadtest.Run(context.Background(), opts)
		if err != nil {
			fatalf("%v", err)
		}
		report.Print(os.Stdout)
		if !report.Consistent(opts) {
			fatalf("remote holds %d of %d tasks", report.Synced, tasks)
		}
		fmt.Printf("\n%s All tasks reached the remote\n", ui.RenderPass("✓"))
	},
}

func init() {
	benchCmd.Flags().Int("tasks", 1000, "Tasks to queue")
	benchCmd.Flags().Int("readers", 8, "Concurrent readers during the drain")
	benchCmd.Flags().Bool("sqlite", false, "Use a SQLite store instead of memory")
	rootCmd.AddCommand(benchCmd)
}
