package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slate360/slatesync/internal/migrate"
	"github.com/slate360/slatesync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export all projects to a JSONL file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, _, _ := openWorkspace()
		defer db.Close()

		result, err := migrate.Export(context.Background(), db, args[0])
		if err != nil {
			ui.Errorf("Export failed: %v", err)
			os.Exit(1)
		}
		ui.Successf("Exported %d projects to %s", result.ProjectsWritten, result.Path)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import projects from a JSONL file",
	Long: `Import projects from a JSONL file (one JSON object per line).

Each record becomes a local create: it gets a provisional id and is queued
for sync. Records whose id already exists in the store are skipped, so
re-running an import is safe.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		opts := migrate.ImportOptions{}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		opts.Backup, _ = cmd.Flags().GetBool("backup")

		result, err := migrate.Import(context.Background(), m, db, args[0], opts)
		if err != nil {
			ui.Errorf("Import failed: %v", err)
			os.Exit(1)
		}

		if opts.DryRun {
			fmt.Printf("Dry run: would import %d projects (%d skipped)\n",
				result.ProjectsImported, result.Skipped)
		} else {
			ui.Successf("Imported %d projects (%d skipped)", result.ProjectsImported, result.Skipped)
		}
		if result.BackupCreated != "" {
			fmt.Printf("Backup: %s\n", result.BackupCreated)
		}
		for _, e := range result.Errors {
			ui.Errorf("Warning: %s", e)
		}
		if !opts.DryRun && result.ProjectsImported > 0 {
			fmt.Println("Run 'slatesync sync' or start the daemon to push them to the remote")
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "preview without writing")
	importCmd.Flags().Bool("backup", false, "copy the input file aside before importing")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
