// Package projects implements the optimistic mutation API and the pure
// query layer on top of the durable store.
//
// Every mutation follows the same shape: validate, write the full new state
// to the local store, and append a journal entry carrying that snapshot, all
// in one transaction. The caller gets an answer as soon as the local commit
// lands; reconciliation with the remote authority happens later and never
// blocks a mutation.
package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slate360/slatesync/internal/journal"
	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
)

// ErrNothingToRetry is returned by Retry when the project is not in the
// sync-failed state.
var ErrNothingToRetry = errors.New("project has no failed sync to retry")

// SyncTrigger requests an immediate reconcile pass. The reconcile engine
// satisfies this; a nil trigger is allowed and means passes run only on
// their interval.
type SyncTrigger interface {
	SyncNow()
}

// EventSink receives mutation notifications. Methods must not block.
type EventSink interface {
	ProjectCreated(p *schema.Project)
	ProjectUpdated(p *schema.Project)
	ProjectRemoved(id string)
}

// Manager coordinates local mutations: store writes, journal appends, and
// sync triggering. Safe for concurrent use; mutations are serialized so the
// journal order matches the accept order.
type Manager struct {
	db      *store.DB
	journal *journal.Journal
	trigger SyncTrigger
	events  EventSink
	logger  *log.Logger

	mu sync.Mutex
}

// NewManager creates a Manager. If logger is nil, a default stderr logger
// is used.
func NewManager(db *store.DB, j *journal.Journal, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[projects] ", log.LstdFlags)
	}
	return &Manager{
		db:      db,
		journal: j,
		logger:  logger,
	}
}

// SetTrigger attaches a sync trigger fired after every accepted mutation.
func (m *Manager) SetTrigger(t SyncTrigger) {
	m.trigger = t
}

// SetEvents attaches an event sink. Call before serving mutations.
func (m *Manager) SetEvents(sink EventSink) {
	m.events = sink
}

// Create accepts a new project. If the project carries no id, a provisional
// local one is assigned and replaced by the remote's canonical id once the
// create is acknowledged; callers should treat the returned id as
// provisional while the project is pending. A supplied id (an import from
// another workspace, say) is kept as-is.
func (m *Manager) Create(ctx context.Context, p *schema.Project) (*schema.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = p.Clone()
	if p.ID == "" {
		p.ID = schema.LocalIDPrefix + uuid.NewString()
	}
	p.SetDefaults()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.SyncState = schema.SyncPending

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}

	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := m.db.PutProjectTx(ctx, tx, p); err != nil {
			return err
		}
		return m.journal.EnqueueTx(ctx, tx, &journal.Entry{
			ProjectID: p.ID,
			Kind:      journal.KindCreate,
			Payload:   p.Clone(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	m.logger.Printf("Created project %s (%s)", p.ID, p.Name)
	m.notifyCreated(p)
	m.syncNow()
	return p.Clone(), nil
}

// Update applies a partial update to an existing project. Returns
// store.ErrNotFound if the project does not exist. An empty patch is a
// no-op and enqueues nothing.
func (m *Manager) Update(ctx context.Context, id string, patch *schema.Patch) (*schema.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patch == nil || patch.IsEmpty() {
		return m.db.GetProjectContext(ctx, id)
	}

	var updated *schema.Project
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		p, err := m.db.GetProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}

		patch.Apply(p)
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid project: %w", err)
		}
		p.SyncState = schema.SyncPending

		if err := m.db.PutProjectTx(ctx, tx, p); err != nil {
			return err
		}
		if err := m.journal.EnqueueTx(ctx, tx, &journal.Entry{
			ProjectID: p.ID,
			Kind:      journal.KindUpdate,
			Payload:   p.Clone(),
		}); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update project %s: %w", id, err)
	}

	m.logger.Printf("Updated project %s (v%d)", updated.ID, updated.Version)
	m.notifyUpdated(updated)
	m.syncNow()
	return updated.Clone(), nil
}

// Remove deletes a project locally and enqueues the remote delete.
// Removing a project that does not exist is a no-op.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		p, err := m.db.GetProjectTx(ctx, tx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		if err := m.db.DeleteProjectTx(ctx, tx, id); err != nil {
			return err
		}

		// A project the remote has never seen needs no remote delete:
		// dropping its queued create (and any followups) is enough.
		if p.IsLocalID() {
			return m.journal.DropForProjectTx(ctx, tx, id)
		}
		return m.journal.EnqueueTx(ctx, tx, &journal.Entry{
			ProjectID: id,
			Kind:      journal.KindDelete,
			Payload:   p.Clone(),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to remove project %s: %w", id, err)
	}

	m.logger.Printf("Removed project %s", id)
	m.notifyRemoved(id)
	m.syncNow()
	return nil
}

// Retry re-enqueues a sync-failed project for another round of
// reconciliation. The current local state is sent as a fresh update (or
// create, if the project never received a canonical id).
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		p, err := m.db.GetProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.SyncState != schema.SyncFailed {
			return ErrNothingToRetry
		}

		kind := journal.KindUpdate
		if p.IsLocalID() {
			kind = journal.KindCreate
		}
		if err := m.db.SetSyncStateTx(ctx, tx, id, schema.SyncPending); err != nil {
			return err
		}
		p.SyncState = schema.SyncPending
		return m.journal.EnqueueTx(ctx, tx, &journal.Entry{
			ProjectID: id,
			Kind:      kind,
			Payload:   p.Clone(),
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrNothingToRetry) {
			return err
		}
		return fmt.Errorf("failed to retry project %s: %w", id, err)
	}

	m.logger.Printf("Retrying sync for project %s", id)
	m.syncNow()
	return nil
}

// Get returns a single project by id.
func (m *Manager) Get(ctx context.Context, id string) (*schema.Project, error) {
	return m.db.GetProjectContext(ctx, id)
}

// List returns projects matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter store.ListFilter) ([]*schema.Project, error) {
	return m.db.ListProjectsContext(ctx, filter)
}

// PendingCount reports how many mutations await reconciliation.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.journal.Len(ctx)
}

func (m *Manager) syncNow() {
	if m.trigger != nil {
		m.trigger.SyncNow()
	}
}

func (m *Manager) notifyCreated(p *schema.Project) {
	if m.events != nil {
		m.events.ProjectCreated(p.Clone())
	}
}

func (m *Manager) notifyUpdated(p *schema.Project) {
	if m.events != nil {
		m.events.ProjectUpdated(p.Clone())
	}
}

func (m *Manager) notifyRemoved(id string) {
	if m.events != nil {
		m.events.ProjectRemoved(id)
	}
}
