package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smarttodo/tasksync/internal/config"
)

var (
	cfgFile string
	verbose bool
	noSync  bool
	offline bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "todo",
	Short: "Offline-first personal task manager",
	Long: `todo keeps your tasks on this device and syncs them to a remote store.

Every change is saved locally first and queued. Queued changes are sent in
order whenever the remote is reachable; connectivity is read from the state
file written by 'todo connectivity'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func loadConfig() error {
	c, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	cfg = c
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath(), "Config file (TOML or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&noSync, "no-sync", false, "Queue changes without syncing")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Treat the remote as unreachable")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}
