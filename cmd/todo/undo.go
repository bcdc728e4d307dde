package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/smarttodo/tasksync/internal/engine"
	"github.com/smarttodo/tasksync/internal/ui"
)

var undoCmd = &cobra.Command{
	Use:     "undo",
	GroupID: "tasks",
	Short:   "Reverse the last task change",
	Long: `Reverse the most recent add, edit, completion or delete of a task.

The last 10 changes are remembered between runs. The reversal is synced
like any other change.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := mustOpen(ctx)
		defer a.Close()

		action, err := a.eng.Undo(ctx)
		if errors.Is(err, engine.ErrNothingToUndo) {
			fmt.Println("Nothing to undo.")
			return
		}
		if err != nil {
			fatalf("%v", err)
		}
		switch action.Kind {
		case engine.UndoAdd:
			fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), action.Task.Title)
		case engine.UndoUpdate:
			fmt.Printf("%s Restored %s\n", ui.RenderPass("✓"), ui.TaskLine(action.Task, time.Now()))
		case engine.UndoDelete:
			fmt.Printf("%s Brought back %s\n", ui.RenderPass("✓"), action.Task.Title)
		}
		a.syncNow(ctx)
	},
}

// undoFile holds the undo history next to the local database.
func undoFile() string {
	return filepath.Join(filepath.Dir(cfg.Store.Path), "undo.json")
}

// loadUndo reads a saved history. A missing file is an empty history.
func loadUndo(path string) ([]engine.UndoAction, []byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read undo history: %w", err)
	}
	var actions []engine.UndoAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, nil, fmt.Errorf("failed to parse undo history: %w", err)
	}
	return actions, data, nil
}

// saveUndo writes actions through a temp file and rename. prev is the
// content loaded at startup; an unchanged history is not rewritten so a
// long-running daemon never clobbers changes made by other commands.
func saveUndo(path string, actions []engine.UndoAction, prev []byte) error {
	if len(actions) == 0 && prev == nil {
		return nil
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to marshal undo history: %w", err)
	}
	if bytes.Equal(data, prev) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(undoCmd)
}
