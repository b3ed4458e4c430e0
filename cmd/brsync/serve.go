package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackroad/statesync/internal/daemon"
	"github.com/blackroad/statesync/internal/dashboard"
	"github.com/blackroad/statesync/internal/store"
	"github.com/blackroad/statesync/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon and dashboard",
	Long: `Run the background sync daemon and the WebSocket dashboard.

The daemon watches the record directory for external edits and keeps the
other backends reconciled; the dashboard streams sync and conflict events
to connected WebSocket clients at /ws and accepts signature-verified
change webhooks at /webhook.

Example usage:
  brsync serve                  # default dashboard port 8080
  brsync serve --port 9000

Connect a client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var server *dashboard.Server
		w, err := openWorkspace(func(ev syncer.Event) {
			if server != nil {
				server.Broadcast(ev)
			}
		})
		if err != nil {
			return err
		}
		defer w.Close()

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = w.cfg.Dashboard.Port
		}

		server = dashboard.NewServer(&dashboard.Config{
			Port:          port,
			WebhookSecret: w.cfg.Dashboard.WebhookSecret,
			OnWebhook: func(ctx context.Context, key string) error {
				_, err := w.coord.Read(ctx, key)
				if errors.Is(err, store.ErrNotFound) {
					_, err = w.coord.Delete(ctx, key)
				}
				return err
			},
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return err
		}

		d, err := daemon.New(w.coord, w.cfg.RecordsDir, nil)
		if err != nil {
			_ = server.Stop()
			return err
		}

		fmt.Printf("dashboard on http://localhost:%d (ws://localhost:%d/ws)\n", port, port)
		fmt.Printf("watching %s\n", w.cfg.RecordsDir)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		runErr := d.Run(ctx)

		fmt.Println("\nshutting down...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		return runErr
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Dashboard port (default from workspace config)")
	rootCmd.AddCommand(serveCmd)
}
