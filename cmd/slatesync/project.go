package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/slate360/slatesync/internal/projects"
	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
	"github.com/slate360/slatesync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a slatesync workspace in the current directory",
	Run: func(cmd *cobra.Command, args []string) {
		dir := workspaceDirName
		if err := os.MkdirAll(dir, 0755); err != nil {
			ui.Errorf("Error creating workspace: %v", err)
			os.Exit(1)
		}

		db, err := store.Open(dir + "/projects.db")
		if err != nil {
			ui.Errorf("Error creating store: %v", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.InitSchema(); err != nil {
			ui.Errorf("Error initializing schema: %v", err)
			os.Exit(1)
		}

		ui.Successf("Initialized workspace in %s", dir)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Long: `Create a project in the local store.

The project is visible immediately under a provisional id and is queued
for sync; once the remote acknowledges it, the id is replaced by the
server-assigned one.

Timeline flags accept natural language:
  slatesync create "Harbor Tower" --start "next monday" --end "in 6 months"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		p := &schema.Project{Name: args[0]}
		p.Description, _ = cmd.Flags().GetString("description")
		p.Status, _ = cmd.Flags().GetString("status")
		p.Type, _ = cmd.Flags().GetString("type")
		p.Budget, _ = cmd.Flags().GetFloat64("budget")
		p.Owner, _ = cmd.Flags().GetString("owner")
		p.Team, _ = cmd.Flags().GetStringSlice("team")
		p.Tags, _ = cmd.Flags().GetStringSlice("tags")

		var err error
		if p.StartDate, err = parseDateFlag(cmd, "start"); err != nil {
			ui.Errorf("Error: %v", err)
			os.Exit(1)
		}
		if p.EndDate, err = parseDateFlag(cmd, "end"); err != nil {
			ui.Errorf("Error: %v", err)
			os.Exit(1)
		}

		created, err := m.Create(context.Background(), p)
		if err != nil {
			ui.Errorf("Error creating project: %v", err)
			os.Exit(1)
		}

		ui.Successf("Created %s (%s)", created.Name, created.ID)
		fmt.Printf("Sync state: %s\n", ui.SyncBadge(created.SyncState))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		filter := store.ListFilter{}
		filter.Status, _ = cmd.Flags().GetString("status")
		filter.Type, _ = cmd.Flags().GetString("type")
		filter.Owner, _ = cmd.Flags().GetString("owner")
		filter.SyncState, _ = cmd.Flags().GetString("sync-state")
		filter.Search, _ = cmd.Flags().GetString("search")
		filter.Tag, _ = cmd.Flags().GetString("tag")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		all, err := m.List(context.Background(), filter)
		if err != nil {
			ui.Errorf("Error listing projects: %v", err)
			os.Exit(1)
		}

		if len(all) == 0 {
			fmt.Println("No projects found")
			return
		}

		fmt.Println(ui.ProjectHeader())
		for _, p := range all {
			fmt.Println(ui.ProjectRow(p))
		}

		summary := projects.Summarize(all)
		fmt.Printf("\n%d projects", summary.Total)
		if summary.Pending > 0 {
			fmt.Printf(", %d pending sync", summary.Pending)
		}
		if summary.Failed > 0 {
			fmt.Printf(", %d sync-failed", summary.Failed)
		}
		fmt.Println()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		p, err := m.Get(context.Background(), args[0])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				ui.Errorf("Project %s not found", args[0])
			} else {
				ui.Errorf("Error: %v", err)
			}
			os.Exit(1)
		}

		printProject(p)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a project",
	Long: `Apply a partial update to a project. Only the flags you pass change;
everything else keeps its current value. The change commits locally and is
queued for sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		patch := &schema.Patch{}
		setIfChanged := func(name string, assign func()) {
			if cmd.Flags().Changed(name) {
				assign()
			}
		}
		setIfChanged("name", func() { v, _ := cmd.Flags().GetString("name"); patch.Name = &v })
		setIfChanged("description", func() { v, _ := cmd.Flags().GetString("description"); patch.Description = &v })
		setIfChanged("status", func() { v, _ := cmd.Flags().GetString("status"); patch.Status = &v })
		setIfChanged("type", func() { v, _ := cmd.Flags().GetString("type"); patch.Type = &v })
		setIfChanged("budget", func() { v, _ := cmd.Flags().GetFloat64("budget"); patch.Budget = &v })
		setIfChanged("owner", func() { v, _ := cmd.Flags().GetString("owner"); patch.Owner = &v })
		setIfChanged("team", func() { patch.Team, _ = cmd.Flags().GetStringSlice("team") })
		setIfChanged("tags", func() { patch.Tags, _ = cmd.Flags().GetStringSlice("tags") })

		var err error
		if cmd.Flags().Changed("start") {
			if patch.StartDate, err = parseDateFlag(cmd, "start"); err != nil {
				ui.Errorf("Error: %v", err)
				os.Exit(1)
			}
		}
		if cmd.Flags().Changed("end") {
			if patch.EndDate, err = parseDateFlag(cmd, "end"); err != nil {
				ui.Errorf("Error: %v", err)
				os.Exit(1)
			}
		}

		if patch.IsEmpty() {
			fmt.Println("Nothing to update")
			return
		}

		updated, err := m.Update(context.Background(), args[0], patch)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				ui.Errorf("Project %s not found", args[0])
			} else {
				ui.Errorf("Error updating project: %v", err)
			}
			os.Exit(1)
		}

		ui.Successf("Updated %s (v%d)", updated.ID, updated.Version)
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a project",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		if err := m.Remove(context.Background(), args[0]); err != nil {
			ui.Errorf("Error removing project: %v", err)
			os.Exit(1)
		}
		ui.Successf("Removed %s", args[0])
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-queue a sync-failed project",
	Long: `Re-queue a project whose sync was abandoned after repeated failures.

The current local state is sent to the remote as a fresh mutation with a
full retry budget.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, _, m := openWorkspace()
		defer db.Close()

		err := m.Retry(context.Background(), args[0])
		switch {
		case errors.Is(err, store.ErrNotFound):
			ui.Errorf("Project %s not found", args[0])
			os.Exit(1)
		case errors.Is(err, projects.ErrNothingToRetry):
			ui.Errorf("Project %s is not sync-failed", args[0])
			os.Exit(1)
		case err != nil:
			ui.Errorf("Error: %v", err)
			os.Exit(1)
		}

		ui.Successf("Re-queued %s for sync", args[0])
		fmt.Println("Run 'slatesync sync' or start the daemon to drain the queue")
	},
}

func printProject(p *schema.Project) {
	fmt.Printf("%s\n", p.Name)
	fmt.Printf("  ID:          %s\n", p.ID)
	if p.Description != "" {
		fmt.Printf("  Description: %s\n", p.Description)
	}
	fmt.Printf("  Status:      %s\n", p.Status)
	fmt.Printf("  Type:        %s\n", p.Type)
	fmt.Printf("  Budget:      %s\n", ui.FormatBudget(p.Budget))
	if p.StartDate != nil {
		fmt.Printf("  Start:       %s\n", p.StartDate.Format("2006-01-02"))
	}
	if p.EndDate != nil {
		fmt.Printf("  End:         %s\n", p.EndDate.Format("2006-01-02"))
	}
	if p.Owner != "" {
		fmt.Printf("  Owner:       %s\n", p.Owner)
	}
	if len(p.Team) > 0 {
		fmt.Printf("  Team:        %v\n", p.Team)
	}
	if len(p.Tags) > 0 {
		fmt.Printf("  Tags:        %v\n", p.Tags)
	}
	fmt.Printf("  Version:     %d\n", p.Version)
	fmt.Printf("  Sync:        %s\n", ui.SyncBadge(p.SyncState))
	fmt.Printf("  Updated:     %s\n", p.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}

// parseDateFlag parses a timeline flag, accepting both fixed formats and
// natural language ("next monday", "in 6 months").
func parseDateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}

	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(raw, time.Now())
	if err != nil || r == nil {
		return nil, fmt.Errorf("cannot parse %s date %q", name, raw)
	}
	return &r.Time, nil
}

func addProjectFieldFlags(cmd *cobra.Command) {
	cmd.Flags().String("description", "", "project description")
	cmd.Flags().String("status", "", "status (planning, active, on-hold, completed, archived)")
	cmd.Flags().String("type", "", "type (commercial, residential, industrial, infrastructure)")
	cmd.Flags().Float64("budget", 0, "budget in dollars")
	cmd.Flags().String("owner", "", "project owner")
	cmd.Flags().StringSlice("team", nil, "team members")
	cmd.Flags().StringSlice("tags", nil, "tags")
	cmd.Flags().String("start", "", "start date (2006-01-02 or natural language)")
	cmd.Flags().String("end", "", "end date (2006-01-02 or natural language)")
}

func init() {
	addProjectFieldFlags(createCmd)

	addProjectFieldFlags(updateCmd)
	updateCmd.Flags().String("name", "", "project name")

	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().String("type", "", "filter by type")
	listCmd.Flags().String("owner", "", "filter by owner")
	listCmd.Flags().String("sync-state", "", "filter by sync state (pending, synced, sync-failed)")
	listCmd.Flags().String("search", "", "substring match on name or description")
	listCmd.Flags().String("tag", "", "filter by tag")
	listCmd.Flags().Int("limit", 0, "maximum number of results")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(retryCmd)
}
