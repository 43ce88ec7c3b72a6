package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/slate360/slatesync/internal/daemon"
	"github.com/slate360/slatesync/internal/dashboard"
	"github.com/slate360/slatesync/internal/reconcile"
	"github.com/slate360/slatesync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the long-lived sync process.

The daemon:
  1. Reconciles queued mutations with the remote on an interval
  2. Watches ` + workspaceDirName + `/import/ for dropped project JSON files
  3. Serves the live WebSocket dashboard (with --dashboard)

Logs rotate under ` + workspaceDirName + `/logs/. Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := requireWorkspaceDir()
		db, j, m := openWorkspace()
		defer db.Close()

		logger := daemonLogger(dir, "[slatesync] ")

		rc := reconcile.DefaultConfig()
		rc.Interval = viper.GetDuration("sync.interval")
		if rc.Interval == 0 {
			rc.Interval = reconcile.DefaultConfig().Interval
		}
		rc.Logger = logger
		r := reconcile.New(db, j, newRemoteClient(), rc)
		m.SetTrigger(r)

		dc := daemon.DefaultConfig()
		dc.Logger = logger
		d, err := daemon.NewWithConfig(m, r, filepath.Join(dir, "import"), dc)
		if err != nil {
			ui.Errorf("Error creating daemon: %v", err)
			os.Exit(1)
		}

		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if withDashboard {
			port, _ := cmd.Flags().GetInt("port")
			server := dashboard.NewServer(&dashboard.Config{Port: port, Logger: logger})
			if err := server.Start(); err != nil {
				ui.Errorf("Error starting dashboard: %v", err)
				os.Exit(1)
			}
			defer func() { _ = server.Stop() }()

			handler := dashboard.NewHandler(server, logger)
			m.SetEvents(handler)
			r.SetEvents(handler)
			fmt.Printf("Dashboard: http://%s/\n", server.GetAddr())
		}

		fmt.Println("Starting slatesync daemon...")
		fmt.Printf("   Store: %s\n", db.Path())
		fmt.Printf("   Import inbox: %s\n", filepath.Join(dir, "import"))
		fmt.Println("\nPress Ctrl+C to stop")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil && ctx.Err() == nil {
			ui.Errorf("Daemon stopped with error: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().Bool("dashboard", false, "serve the live WebSocket dashboard")
	serveCmd.Flags().Int("port", 8080, "dashboard port")
	rootCmd.AddCommand(serveCmd)
}
