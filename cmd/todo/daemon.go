package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smarttodo/tasksync/internal/connectivity"
	"github.com/smarttodo/tasksync/internal/dashboard"
	"github.com/smarttodo/tasksync/internal/store"
	"github.com/smarttodo/tasksync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep syncing in the foreground",
	Long: `Run the sync engine until interrupted.

The daemon watches the connectivity state file, drains the queue when the
remote becomes reachable, retries failures with backoff and refreshes on a
fixed interval. With --dashboard it also serves live status over WebSocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := mustOpen(ctx)
		defer a.Close()

		watcher, err := connectivity.NewFileSource(cfg.Connectivity.StateFile, a.mon, a.sink.Logger("connectivity"))
		if err != nil {
			fatalf("%v", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.eng.Run(gctx) })
		g.Go(func() error { return watcher.Run(gctx) })

		if !a.durable {
			every, _ := cmd.Flags().GetDuration("storage-retry")
			logger := a.sink.Logger("store")
			open := func(ctx context.Context) (store.Store, error) {
				st, err := store.OpenContext(ctx, cfg.Store.Path, logger)
				if err != nil {
					return nil, err
				}
				return st, nil
			}
			g.Go(func() error { return reattachStore(gctx, a.eng, open, every, logger) })
		}

		serve, _ := cmd.Flags().GetBool("dashboard")
		if serve || cfg.Dashboard.Enabled {
			addr, _ := cmd.Flags().GetString("addr")
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Dashboard.Addr
			}
			server := dashboard.NewServer(a.eng, &dashboard.Config{Addr: addr, Logger: a.sink.Logger("dashboard")})
			handler := dashboard.NewHandler(server, a.eng, a.sink.Logger("dashboard"))
			if err := server.Start(); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("●"), server.Addr())
			g.Go(func() error { return handler.Run(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				return server.Stop()
			})
		}

		fmt.Printf("%s Syncing (%s). Press Ctrl+C to stop.\n", ui.RenderAccent("●"), ui.OnlineBadge(a.mon.Online()))
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			fatalf("%v", err)
		}
		fmt.Println("Stopped.")
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the status dashboard")
	daemonCmd.Flags().String("addr", "127.0.0.1:8765", "Dashboard listen address")
	daemonCmd.Flags().Duration("storage-retry", 30*time.Second, "How often to retry local storage after falling back to memory")
	rootCmd.AddCommand(daemonCmd)
}
