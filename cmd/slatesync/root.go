package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/slate360/slatesync/internal/journal"
	"github.com/slate360/slatesync/internal/projects"
	"github.com/slate360/slatesync/internal/remote"
	"github.com/slate360/slatesync/internal/store"
)

const workspaceDirName = ".slate360"

var rootCmd = &cobra.Command{
	Use:   "slatesync",
	Short: "Local-first Slate360 project store",
	Long: `slatesync keeps a durable local copy of Slate360 projects and
reconciles local changes with the remote Slate360 API in the background.

Mutations commit locally first and are queued for sync; the store stays
usable offline and converges once the remote is reachable again.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("dir", "", "workspace directory (default: nearest .slate360)")
	rootCmd.PersistentFlags().String("remote-url", "", "Slate360 API base URL")
	rootCmd.PersistentFlags().String("api-key", "", "Slate360 API key")

	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("remote.url", rootCmd.PersistentFlags().Lookup("remote-url"))
	_ = viper.BindPFlag("remote.api_key", rootCmd.PersistentFlags().Lookup("api-key"))

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.SetEnvPrefix("SLATE360")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir := findWorkspaceDir()
	if dir != "" {
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		// Missing config file is fine; flags and env still apply.
		_ = viper.ReadInConfig()
	}
}

// findWorkspaceDir locates the .slate360 directory: the --dir flag if set,
// otherwise walking up from the working directory.
func findWorkspaceDir() string {
	if dir := viper.GetString("dir"); dir != "" {
		return dir
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(cwd, workspaceDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// requireWorkspaceDir resolves the workspace directory or exits.
func requireWorkspaceDir() string {
	dir := findWorkspaceDir()
	if dir == "" {
		fmt.Fprintf(os.Stderr, "Error: %s directory not found\n", workspaceDirName)
		fmt.Fprintf(os.Stderr, "Run 'slatesync init' in your project root first\n")
		os.Exit(1)
	}
	return dir
}

// openWorkspace opens the store and builds the mutation manager.
// The caller owns closing the returned DB.
func openWorkspace() (*store.DB, *journal.Journal, *projects.Manager) {
	dir := requireWorkspaceDir()

	db, err := store.Open(filepath.Join(dir, "projects.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}

	j := journal.New(db)
	m := projects.NewManager(db, j, quietLogger())
	return db, j, m
}

// newRemoteClient builds the HTTP client from config, or exits when the
// remote is not configured.
func newRemoteClient() remote.Client {
	baseURL := viper.GetString("remote.url")
	if baseURL == "" {
		fmt.Fprintf(os.Stderr, "Error: remote URL not configured\n")
		fmt.Fprintf(os.Stderr, "Set remote.url in %s/config.yaml, SLATE360_REMOTE_URL, or --remote-url\n", workspaceDirName)
		os.Exit(1)
	}
	return remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL: baseURL,
		APIKey:  viper.GetString("remote.api_key"),
	})
}

// quietLogger suppresses component logs for one-shot CLI commands.
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// daemonLogger writes rotated logs under the workspace for long-running
// commands.
func daemonLogger(dir, prefix string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   filepath.Join(dir, "logs", "slatesync.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, prefix, log.LstdFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
