package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/slate360/slatesync/internal/journal"
	"github.com/slate360/slatesync/internal/remote"
	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
)

// Config holds configuration for the reconcile engine.
type Config struct {
	// Interval is how often a drain pass runs (default: 15s).
	Interval time.Duration

	// BatchSize is the maximum number of journal entries per pass
	// (default: 50).
	BatchSize int

	// MaxRetries is the retry budget per entry for transient failures.
	// Exceeding it abandons the entry and marks the project sync-failed
	// (default: 5).
	MaxRetries int

	// BaseBackoff is the delay after the first transient failure; it
	// doubles per retry (default: 1s).
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential backoff (default: 60s).
	MaxBackoff time.Duration

	// Logger for reconcile activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:    15 * time.Second,
		BatchSize:   50,
		MaxRetries:  5,
		BaseBackoff: time.Second,
		MaxBackoff:  60 * time.Second,
		Logger:      log.New(os.Stderr, "[reconcile] ", log.LstdFlags),
	}
}

// CycleStats summarizes one drain pass.
type CycleStats struct {
	Processed int
	Acked     int
	Conflicts int
	Retried   int
	Abandoned int
	Skipped   int
	Duration  time.Duration
}

// EventSink receives reconcile outcomes. All methods must be fast and
// non-blocking; the dashboard handler satisfies this interface.
type EventSink interface {
	SyncAcked(projectID string, kind journal.Kind)
	SyncConflictResolved(projectID string)
	SyncAbandoned(projectID string)
	SyncCycleComplete(stats CycleStats)
}

// Reconciler drains the mutation journal against the remote authority.
type Reconciler struct {
	db      *store.DB
	journal *journal.Journal
	remote  remote.Client
	config  *Config
	events  EventSink

	trigger chan struct{}

	// Serializes drain passes: two passes never run concurrently, so no
	// queue entry is ever processed twice at once.
	drainMu sync.Mutex
}

// New creates a Reconciler.
//
// The database must be open with schema initialized. If config is nil,
// DefaultConfig is used.
//
// Example:
//
//	r := reconcile.New(db, journal.New(db), client, nil)
//	go r.Run(ctx)
//	r.SyncNow()
func New(db *store.DB, j *journal.Journal, client remote.Client, config *Config) *Reconciler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{
		db:      db,
		journal: j,
		remote:  client,
		config:  config,
		trigger: make(chan struct{}, 1),
	}
}

// SetEvents attaches an event sink. Call before Run.
func (r *Reconciler) SetEvents(sink EventSink) {
	r.events = sink
}

// SyncNow requests an immediate drain pass. Non-blocking; if a trigger is
// already queued the request coalesces into it.
func (r *Reconciler) SyncNow() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run drives drain passes until the context is cancelled.
//
// Passes run on the configured interval and whenever SyncNow is called.
// Pass errors are logged and the loop continues; local mutations are never
// blocked by reconciliation.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
		case <-r.trigger:
		}

		if _, err := r.DrainOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.config.Logger.Printf("Drain pass failed: %v", err)
		}
	}
}

// DrainOnce performs a single drain pass and returns its statistics.
//
// Entries are processed in ascending queue-id order. When an entry for a
// project is retried or abandoned, every later entry for that project is
// skipped for the rest of the pass so per-project order is preserved
// end-to-end.
func (r *Reconciler) DrainOnce(ctx context.Context) (CycleStats, error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	start := time.Now()
	var stats CycleStats

	batch, err := r.journal.PendingBatch(ctx, r.config.BatchSize, time.Now())
	if err != nil {
		return stats, fmt.Errorf("failed to read pending batch: %w", err)
	}
	if len(batch) == 0 {
		return stats, nil
	}

	// Projects whose earlier entry did not ack this pass. Their later
	// entries must wait so local accept order stays the remote apply order.
	deferred := make(map[string]bool)

	// Provisional ids replaced by canonical ones earlier in this pass.
	// Later batch entries were read before the rekey and must follow.
	rekeys := make(map[string]string)

	for _, entry := range batch {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if newID, ok := rekeys[entry.ProjectID]; ok {
			entry.ProjectID = newID
		}
		if deferred[entry.ProjectID] {
			stats.Skipped++
			continue
		}

		stats.Processed++
		if err := r.processEntry(ctx, entry, rekeys, &stats); err != nil {
			deferred[entry.ProjectID] = true
		}
	}

	stats.Duration = time.Since(start)
	r.config.Logger.Printf("Drain pass: processed=%d acked=%d conflicts=%d retried=%d abandoned=%d skipped=%d in %s",
		stats.Processed, stats.Acked, stats.Conflicts, stats.Retried, stats.Abandoned, stats.Skipped, stats.Duration)

	if r.events != nil {
		r.events.SyncCycleComplete(stats)
	}
	return stats, nil
}

// processEntry sends one journal entry to the remote authority and applies
// the outcome. A non-nil return means later entries for the same project
// must be deferred this pass.
func (r *Reconciler) processEntry(ctx context.Context, entry *journal.Entry, rekeys map[string]string, stats *CycleStats) error {
	// Payload snapshots keep the id they were enqueued under; a rekey may
	// have moved the project since.
	payload := entry.Payload.Clone()
	payload.ID = entry.ProjectID

	var canonical *schema.Project
	var err error

	switch entry.Kind {
	case journal.KindCreate:
		canonical, err = r.remote.CreateProject(ctx, payload)
	case journal.KindUpdate:
		canonical, err = r.remote.UpdateProject(ctx, payload)
	case journal.KindDelete:
		err = r.remote.DeleteProject(ctx, entry.ProjectID, payload.Version)
	default:
		// Unknown kinds cannot succeed; drop them rather than wedging the queue.
		r.config.Logger.Printf("Dropping journal entry %d with unknown kind %q", entry.ID, entry.Kind)
		return r.abandonEntry(ctx, entry, stats)
	}

	switch {
	case err == nil:
		return r.ackSuccess(ctx, entry, canonical, rekeys, stats)

	default:
		if conflict, ok := remote.IsConflict(err); ok {
			return r.resolveConflict(ctx, entry, conflict, stats)
		}
		if remote.IsTransient(err) {
			return r.retryOrAbandon(ctx, entry, err, stats)
		}
		// Permanent rejection: retrying the same payload can never
		// succeed, so abandon immediately.
		r.config.Logger.Printf("Entry %d (%s %s) permanently rejected: %v", entry.ID, entry.Kind, entry.ProjectID, err)
		return r.abandonEntry(ctx, entry, stats)
	}
}

// ackSuccess applies the remote confirmation and removes the entry.
func (r *Reconciler) ackSuccess(ctx context.Context, entry *journal.Entry, canonical *schema.Project, rekeys map[string]string, stats *CycleStats) error {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := r.journal.AckTx(ctx, tx, entry.ID); err != nil {
			return err
		}

		if entry.Kind == journal.KindDelete {
			// Row is already gone locally; nothing to write back.
			return nil
		}

		projectID := entry.ProjectID
		if canonical != nil && canonical.ID != projectID {
			// Server assigned a canonical id on create: move the local
			// row and any remaining queue entries with it.
			if err := r.db.RekeyProjectTx(ctx, tx, projectID, canonical.ID); err != nil {
				return err
			}
			if err := r.journal.RekeyTx(ctx, tx, projectID, canonical.ID); err != nil {
				return err
			}
			rekeys[projectID] = canonical.ID
			projectID = canonical.ID
		}

		remaining, err := r.journal.CountForProjectTx(ctx, tx, projectID)
		if err != nil {
			return err
		}

		if canonical == nil {
			return nil
		}
		if remaining == 0 {
			canonical.SyncState = schema.SyncSynced
		} else {
			canonical.SyncState = schema.SyncPending
		}
		return r.db.ApplyRemoteTx(ctx, tx, canonical)
	})
	if err != nil {
		r.config.Logger.Printf("Failed to apply confirmation for entry %d: %v", entry.ID, err)
		return err
	}

	stats.Acked++
	if r.events != nil {
		r.events.SyncAcked(entry.ProjectID, entry.Kind)
	}
	return nil
}

// resolveConflict applies the remote-wins policy and acks the entry.
// Conflicts are resolved, never retried as-is.
func (r *Reconciler) resolveConflict(ctx context.Context, entry *journal.Entry, conflict *remote.ConflictError, stats *CycleStats) error {
	r.config.Logger.Printf("Version conflict on %s (local v%d, remote v%d): remote wins",
		entry.ProjectID, entry.Payload.Version, conflict.RemoteVersion)

	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := r.journal.AckTx(ctx, tx, entry.ID); err != nil {
			return err
		}

		if conflict.Remote == nil {
			// No canonical body: the best recovery is to keep local
			// state and let readers re-fetch through normal listing.
			return nil
		}

		local, err := r.db.GetProjectTx(ctx, tx, entry.ProjectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		merged := mergeRemoteWins(local, conflict.Remote)

		remaining, err := r.journal.CountForProjectTx(ctx, tx, entry.ProjectID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			merged.SyncState = schema.SyncSynced
		} else {
			merged.SyncState = schema.SyncPending
		}
		return r.db.ApplyRemoteTx(ctx, tx, merged)
	})
	if err != nil {
		r.config.Logger.Printf("Failed to resolve conflict for entry %d: %v", entry.ID, err)
		return err
	}

	stats.Conflicts++
	stats.Acked++
	if r.events != nil {
		r.events.SyncConflictResolved(entry.ProjectID)
	}
	return nil
}

// retryOrAbandon schedules a backed-off retry, or abandons the entry when
// the retry budget is exhausted.
func (r *Reconciler) retryOrAbandon(ctx context.Context, entry *journal.Entry, cause error, stats *CycleStats) error {
	if entry.RetryCount >= r.config.MaxRetries {
		r.config.Logger.Printf("Entry %d (%s %s) exhausted %d retries: %v",
			entry.ID, entry.Kind, entry.ProjectID, entry.RetryCount, cause)
		if err := r.abandonEntry(ctx, entry, stats); err != nil {
			return err
		}
		return fmt.Errorf("abandoned after %d retries: %w", entry.RetryCount, cause)
	}

	backoff := r.backoffFor(entry.RetryCount)
	if err := r.journal.MarkRetry(ctx, entry.ID, backoff); err != nil {
		r.config.Logger.Printf("Failed to mark retry for entry %d: %v", entry.ID, err)
		return err
	}

	stats.Retried++
	r.config.Logger.Printf("Entry %d (%s %s) failed transiently, retry %d in %s: %v",
		entry.ID, entry.Kind, entry.ProjectID, entry.RetryCount+1, backoff, cause)
	return fmt.Errorf("retry scheduled: %w", cause)
}

// abandonEntry removes the entry and marks the project sync-failed in the
// same transaction. The project stays visible; it is never deleted.
func (r *Reconciler) abandonEntry(ctx context.Context, entry *journal.Entry, stats *CycleStats) error {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := r.journal.AbandonTx(ctx, tx, entry.ID); err != nil {
			return err
		}
		return r.db.SetSyncStateTx(ctx, tx, entry.ProjectID, schema.SyncFailed)
	})
	if err != nil {
		r.config.Logger.Printf("Failed to abandon entry %d: %v", entry.ID, err)
		return err
	}

	stats.Abandoned++
	if r.events != nil {
		r.events.SyncAbandoned(entry.ProjectID)
	}
	return nil
}

// backoffFor computes the exponential backoff for the given retry count:
// base, 2*base, 4*base, ... capped at MaxBackoff.
func (r *Reconciler) backoffFor(retryCount int) time.Duration {
	backoff := r.config.BaseBackoff
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff >= r.config.MaxBackoff {
			return r.config.MaxBackoff
		}
	}
	if backoff > r.config.MaxBackoff {
		return r.config.MaxBackoff
	}
	return backoff
}

// mergeRemoteWins implements the conflict policy: the remote state wins,
// but local-only values for fields the remote left empty are preserved.
func mergeRemoteWins(local, rem *schema.Project) *schema.Project {
	merged := rem.Clone()
	if local == nil {
		return merged
	}

	if merged.Description == "" {
		merged.Description = local.Description
	}
	if merged.Owner == "" {
		merged.Owner = local.Owner
	}
	if merged.Budget == 0 {
		merged.Budget = local.Budget
	}
	if merged.StartDate == nil {
		merged.StartDate = local.StartDate
	}
	if merged.EndDate == nil {
		merged.EndDate = local.EndDate
	}
	if len(merged.Team) == 0 {
		merged.Team = append([]string(nil), local.Team...)
	}
	if len(merged.Tags) == 0 {
		merged.Tags = append([]string(nil), local.Tags...)
	}
	if merged.CreatedAt.After(local.CreatedAt) {
		merged.CreatedAt = local.CreatedAt
	}
	return merged
}
