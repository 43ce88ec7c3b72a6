package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slate360/slatesync/internal/reconcile"
	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the sync queue against the remote once",
	Long: `Send queued local mutations to the remote Slate360 API.

Passes run until the queue is empty or every remaining entry is waiting
out a retry backoff. Conflicts are resolved remote-wins; entries that
exhaust their retries are abandoned and their projects marked sync-failed.`,
	Run: func(cmd *cobra.Command, args []string) {
		db, j, m := openWorkspace()
		defer db.Close()

		ctx := context.Background()
		pending, err := m.PendingCount(ctx)
		if err != nil {
			ui.Errorf("Error reading queue: %v", err)
			os.Exit(1)
		}
		if pending == 0 {
			fmt.Println("Queue is empty, nothing to sync")
			return
		}

		config := reconcile.DefaultConfig()
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
		r := reconcile.New(db, j, newRemoteClient(), config)

		fmt.Printf("Syncing %d queued mutations...\n", pending)
		start := time.Now()

		var total reconcile.CycleStats
		for {
			stats, err := r.DrainOnce(ctx)
			if err != nil {
				ui.Errorf("Sync failed: %v", err)
				os.Exit(1)
			}
			total.Acked += stats.Acked
			total.Conflicts += stats.Conflicts
			total.Retried += stats.Retried
			total.Abandoned += stats.Abandoned

			remaining, err := j.Len(ctx)
			if err != nil {
				ui.Errorf("Error reading queue: %v", err)
				os.Exit(1)
			}
			// Stop when drained, or when the pass made no forward
			// progress (everything left is backing off).
			if remaining == 0 || stats.Acked+stats.Abandoned == 0 {
				pending = remaining
				break
			}
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		ui.Successf("Sync complete in %v", elapsed)
		fmt.Printf("   Acked: %d\n", total.Acked)
		if total.Conflicts > 0 {
			fmt.Printf("   Conflicts resolved: %d\n", total.Conflicts)
		}
		if total.Abandoned > 0 {
			fmt.Printf("   Abandoned: %d (run 'slatesync list --sync-state sync-failed')\n", total.Abandoned)
		}
		if pending > 0 {
			fmt.Printf("   Still queued: %d (backing off, sync again later)\n", pending)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace sync status",
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		ctx := context.Background()

		total, err := db.GetProjectCountContext(ctx)
		if err != nil {
			ui.Errorf("Error: %v", err)
			os.Exit(1)
		}
		byState, err := db.CountBySyncState(ctx)
		if err != nil {
			ui.Errorf("Error: %v", err)
			os.Exit(1)
		}
		queued, err := m.PendingCount(ctx)
		if err != nil {
			ui.Errorf("Error: %v", err)
			os.Exit(1)
		}

		fmt.Printf("Projects: %d\n", total)
		fmt.Printf("  %s: %d\n", ui.SyncBadge(schema.SyncSynced), byState[schema.SyncSynced])
		fmt.Printf("  %s: %d\n", ui.SyncBadge(schema.SyncPending), byState[schema.SyncPending])
		fmt.Printf("  %s: %d\n", ui.SyncBadge(schema.SyncFailed), byState[schema.SyncFailed])
		fmt.Printf("Queued mutations: %d\n", queued)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
