package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slate360/slatesync/internal/dashboard"
	"github.com/slate360/slatesync/internal/store"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the real-time WebSocket dashboard",
	Long: `Start a WebSocket dashboard server for monitoring the workspace.

The server broadcasts workspace statistics to connected clients. When run
standalone it refreshes stats from the store periodically; run
'slatesync serve --dashboard' instead to also stream live mutation and
sync events.

WebSocket messages include:
- project_update: Project created, updated, or removed
- sync_event: Queue entry acked, conflict resolved, or abandoned
- cycle_complete: Reconcile pass finished
- stats: Workspace statistics (totals, sync health)

Example usage:
  slatesync dashboard              # Start on default port 8080
  slatesync dashboard --port 9000  # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		db, _, _ := openWorkspace()
		defer db.Close()

		config := &dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		}
		server := dashboard.NewServer(config)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		handler := dashboard.NewHandler(server, config.Logger)

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Without the daemon feeding events, refresh stats from the store.
		go refreshStats(ctx, db, handler, config.Logger)

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func refreshStats(ctx context.Context, db *store.DB, handler *dashboard.Handler, logger *log.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			all, err := db.ListProjectsContext(ctx, store.ListFilter{})
			if err != nil {
				logger.Printf("Error refreshing stats: %v", err)
				continue
			}
			handler.UpdateStats(all)
		}
	}
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}
