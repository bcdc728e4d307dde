package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/smarttodo/tasksync/internal/backup"
	"github.com/smarttodo/tasksync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [path|-]",
	GroupID: "setup",
	Short:   "Export tasks and categories to a JSON backup",
	Long: `Export tasks and categories to a JSON backup.

Without a path the file is named smart-todo-backup-YYYY-MM-DD.json in the
current directory. Use - to write to stdout.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		path := backup.FileName(time.Now())
		if len(args) == 1 {
			path = args[0]
		}
		if path == "-" {
			if err := a.eng.Export(os.Stdout); err != nil {
				fatalf("%v", err)
			}
			return
		}
		if err := a.eng.ExportFile(path); err != nil {
			fatalf("%v", err)
		}
		s := a.eng.Stats()
		fmt.Printf("%s Exported %d tasks to %s\n", ui.RenderPass("✓"), s.Total, path)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <path>",
	GroupID: "setup",
	Short:   "Replace local data with a JSON backup",
	Long: `Replace all local tasks and categories with the contents of a backup.

Pending changes are discarded and every imported record is queued for
upload. The file is validated first; an invalid file changes nothing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		yes, _ := cmd.Flags().GetBool("yes")

		f, err := os.Open(args[0])
		if err != nil {
			fatalf("failed to open backup: %v", err)
		}
		defer f.Close()

		if !confirm(yes, "Replace all local tasks and categories?", "Import") {
			fmt.Println("Import cancelled.")
			return
		}

		a := mustOpen(ctx)
		defer a.Close()

		sum, err := a.eng.Import(ctx, f)
		if errors.Is(err, backup.ErrImportFormatInvalid) {
			fatalf("%v (nothing was changed)", err)
		}
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Imported %d tasks and %d categories\n", ui.RenderPass("✓"), sum.Tasks, sum.Categories)
		a.syncNow(ctx)
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "setup",
	Short:   "Drop local data and queued changes",
	Long: `Drop every local task and category and every queued change.

Data already on the remote is kept and comes back with the next sync.
Changes that have not synced are lost.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		yes, _ := cmd.Flags().GetBool("yes")
		if !confirm(yes, "Drop all local data?", "Clear") {
			fmt.Println("Clear cancelled.")
			return
		}

		a := mustOpen(ctx)
		defer a.Close()

		pending := a.eng.Status().PendingChanges
		if err := a.eng.Clear(ctx); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Cleared local data (%d unsynced change(s) dropped)\n", ui.RenderPass("✓"), pending)
		a.syncNow(ctx)
	},
}

// confirm asks before a destructive command. Without a terminal the
// command only proceeds with --yes.
func confirm(yes bool, title, affirmative string) bool {
	if yes {
		return true
	}
	if !ui.IsTerminal(os.Stdin) {
		fatalf("this replaces local data; re-run with --yes to confirm")
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description("Pending changes that have not synced will be lost.").
		Affirmative(affirmative).
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		fatalf("%v", err)
	}
	return ok
}

func init() {
	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	importCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(exportCmd, importCmd, clearCmd)
}
