// Package daemon provides the long-running process that watches the import
// inbox and drives reconciliation.
//
// The daemon:
// 1. Watches the import directory for dropped project JSON files
// 2. Feeds imported files through the mutation API
// 3. Runs the reconcile engine on its interval
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slate360/slatesync/internal/projects"
	"github.com/slate360/slatesync/internal/reconcile"
	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before processing file changes.
	// This batches rapid updates together.
	DebounceInterval time.Duration

	// StatsInterval is how often queue depth is logged.
	StatsInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		StatsInterval:    time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the import watcher and the reconcile engine.
type Daemon struct {
	manager    *projects.Manager
	reconciler *reconcile.Reconciler
	importDir  string
	config     *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - manager: the mutation API imported files are fed through
//   - reconciler: the engine drained on its interval
//   - importDir: inbox directory for project JSON files
//
// Use Start() to begin watching and reconciling.
func New(manager *projects.Manager, reconciler *reconcile.Reconciler, importDir string) (*Daemon, error) {
	return NewWithConfig(manager, reconciler, importDir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(manager *projects.Manager, reconciler *reconcile.Reconciler, importDir string, config *Config) (*Daemon, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if importDir == "" {
		return nil, fmt.Errorf("importDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		manager:     manager,
		reconciler:  reconciler,
		importDir:   importDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Sweep the import directory for files dropped while it was down
// 2. Start watching for new import files
// 3. Run the reconcile engine until shutdown
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.importDir, 0755); err != nil {
		return fmt.Errorf("failed to create import directory: %w", err)
	}

	// Pick up anything dropped while we were not running.
	if err := d.SweepImportDir(); err != nil {
		return fmt.Errorf("initial import sweep failed: %w", err)
	}

	if err := d.watcher.Add(d.importDir); err != nil {
		return fmt.Errorf("failed to watch import directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.importDir)

	d.wg.Add(4)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.reportStats()
	go d.runReconciler()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// SweepImportDir imports every project file currently in the inbox.
// Called on startup and whenever a manual sweep is wanted.
func (d *Daemon) SweepImportDir() error {
	entries, err := os.ReadDir(d.importDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read import directory: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.importDir, entry.Name())
		if err := d.importFile(path); err != nil {
			d.config.Logger.Printf("Warning: failed to import %s: %v", path, err)
			continue
		}
		imported++
	}

	if imported > 0 {
		d.config.Logger.Printf("Imported %d project files", imported)
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write; removes are the daemon
			// consuming its own inbox.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been queued for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		// Wait out the debounce window so half-written files settle.
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		d.config.Logger.Printf("Processing import: %s", path)
		if err := d.importFile(path); err != nil {
			d.config.Logger.Printf("Error importing %s: %v", path, err)
		}

		delete(d.changeQueue, path)
	}
}

// importFile feeds one project file through the mutation API and consumes
// it. Files for known project ids become updates; everything else becomes a
// create under a fresh provisional id.
func (d *Daemon) importFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Already consumed, nothing to do.
		return nil
	}

	p, err := schema.ReadProjectFile(path)
	if err != nil {
		return fmt.Errorf("failed to read project file: %w", err)
	}

	ctx := d.ctx
	if p.ID != "" {
		_, err := d.manager.Get(ctx, p.ID)
		switch {
		case err == nil:
			if _, err := d.manager.Update(ctx, p.ID, patchFromProject(p)); err != nil {
				return fmt.Errorf("failed to update from import: %w", err)
			}
		case errors.Is(err, store.ErrNotFound):
			if _, err := d.manager.Create(ctx, p); err != nil {
				return fmt.Errorf("failed to create from import: %w", err)
			}
		default:
			return err
		}
	} else {
		if _, err := d.manager.Create(ctx, p); err != nil {
			return fmt.Errorf("failed to create from import: %w", err)
		}
	}

	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Warning: failed to consume import file %s: %v", path, err)
	}
	return nil
}

// runReconciler drives drain passes until shutdown.
func (d *Daemon) runReconciler() {
	defer d.wg.Done()

	if err := d.reconciler.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.config.Logger.Printf("Reconciler stopped: %v", err)
	}
}

// reportStats periodically logs queue depth and sync health.
func (d *Daemon) reportStats() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			pending, err := d.manager.PendingCount(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Error reading queue depth: %v", err)
				continue
			}
			d.config.Logger.Printf("Queue depth: %d pending mutations", pending)
		}
	}
}

// patchFromProject turns a full imported snapshot into a patch that
// overwrites every content field.
func patchFromProject(p *schema.Project) *schema.Patch {
	return &schema.Patch{
		Name:        &p.Name,
		Description: &p.Description,
		Status:      &p.Status,
		Type:        &p.Type,
		Budget:      &p.Budget,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		Owner:       &p.Owner,
		Team:        p.Team,
		Tags:        p.Tags,
	}
}
