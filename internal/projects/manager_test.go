package projects

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/slate360/slatesync/internal/journal"
	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
)

func setupManager(t *testing.T) (*Manager, *store.DB, *journal.Journal) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	j := journal.New(db)
	m := NewManager(db, j, log.New(io.Discard, "", 0))
	return m, db, j
}

// countTrigger records SyncNow calls.
type countTrigger struct{ calls int }

func (c *countTrigger) SyncNow() { c.calls++ }

func strPtr(s string) *string { return &s }

func TestCreateAssignsLocalIDAndJournals(t *testing.T) {
	ctx := context.Background()
	m, db, j := setupManager(t)

	trigger := &countTrigger{}
	m.SetTrigger(trigger)

	p, err := m.Create(ctx, &schema.Project{Name: "Tower"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !p.IsLocalID() {
		t.Errorf("expected provisional local id, got %q", p.ID)
	}
	if p.Status != "planning" || p.Type != "commercial" {
		t.Errorf("defaults not applied: status=%q type=%q", p.Status, p.Type)
	}
	if p.SyncState != schema.SyncPending {
		t.Errorf("expected sync state %q, got %q", schema.SyncPending, p.SyncState)
	}
	if p.Version != 1 {
		t.Errorf("expected version 1, got %d", p.Version)
	}

	// Visible in the store immediately, before any reconciliation.
	got, err := db.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Name != "Tower" {
		t.Errorf("stored name = %q", got.Name)
	}

	entries, err := j.PendingForProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("PendingForProject failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindCreate {
		t.Fatalf("expected one create entry, got %+v", entries)
	}
	if entries[0].Payload.Name != "Tower" {
		t.Errorf("payload snapshot name = %q", entries[0].Payload.Name)
	}
	if trigger.calls != 1 {
		t.Errorf("expected 1 sync trigger, got %d", trigger.calls)
	}
}

func TestCreateKeepsSuppliedID(t *testing.T) {
	ctx := context.Background()
	m, db, j := setupManager(t)

	p, err := m.Create(ctx, &schema.Project{ID: "proj-imported", Name: "Tower"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.ID != "proj-imported" {
		t.Fatalf("supplied id was replaced with %q", p.ID)
	}

	got, err := db.GetProject("proj-imported")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.SyncState != schema.SyncPending {
		t.Errorf("expected sync state %q, got %q", schema.SyncPending, got.SyncState)
	}

	entries, err := j.PendingForProject(ctx, "proj-imported")
	if err != nil {
		t.Fatalf("PendingForProject failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindCreate {
		t.Fatalf("expected one create entry, got %+v", entries)
	}
	if entries[0].Payload.ID != "proj-imported" {
		t.Errorf("payload id = %q", entries[0].Payload.ID)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	m, _, j := setupManager(t)

	if _, err := m.Create(ctx, &schema.Project{}); err == nil {
		t.Fatal("expected validation error for empty name")
	}

	n, err := j.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("rejected create left %d journal entries", n)
	}
}

func TestUpdatePatchesAndEnqueuesSnapshot(t *testing.T) {
	ctx := context.Background()
	m, _, j := setupManager(t)

	p, err := m.Create(ctx, &schema.Project{Name: "Tower", Budget: 100000})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	budget := 250000.0
	updated, err := m.Update(ctx, p.ID, &schema.Patch{
		Name:   strPtr("Tower East"),
		Budget: &budget,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Name != "Tower East" || updated.Budget != 250000 {
		t.Errorf("patch not applied: %+v", updated)
	}
	if updated.Description != p.Description {
		t.Errorf("unpatched field changed: %q", updated.Description)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2 after update, got %d", updated.Version)
	}

	entries, err := j.PendingForProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("PendingForProject failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected create + update entries, got %d", len(entries))
	}
	// The update payload carries the full post-state, not a delta.
	if entries[1].Payload.Name != "Tower East" || entries[1].Payload.Budget != 250000 {
		t.Errorf("update payload is not a full snapshot: %+v", entries[1].Payload)
	}
}

func TestUpdateMissingProject(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setupManager(t)

	_, err := m.Update(ctx, "no-such", &schema.Patch{Name: strPtr("x")})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateEmptyPatchIsNoop(t *testing.T) {
	ctx := context.Background()
	m, _, j := setupManager(t)

	p, err := m.Create(ctx, &schema.Project{Name: "Tower"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := m.Update(ctx, p.ID, &schema.Patch{})
	if err != nil {
		t.Fatalf("empty Update failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("empty patch bumped version to %d", got.Version)
	}

	n, err := j.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("empty patch enqueued an entry, journal has %d", n)
	}
}

func TestRemoveNeverSyncedDropsQueue(t *testing.T) {
	ctx := context.Background()
	m, db, j := setupManager(t)

	p, err := m.Create(ctx, &schema.Project{Name: "Tower"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := m.Remove(ctx, p.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := db.GetProject(p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("removed project still readable, err=%v", err)
	}

	// Create never reached the remote, so nothing should remain queued.
	n, err := j.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty journal after removing unsynced project, got %d", n)
	}
}

func TestRemoveSyncedProjectEnqueuesDelete(t *testing.T) {
	ctx := context.Background()
	m, db, j := setupManager(t)

	// Simulate a project already acknowledged by the remote.
	now := time.Now()
	p := &schema.Project{
		ID: "proj-1", Name: "Tower", Status: "active", Type: "commercial",
		CreatedAt: now, UpdatedAt: now, SyncState: schema.SyncSynced,
	}
	if err := db.PutProject(p); err != nil {
		t.Fatalf("PutProject failed: %v", err)
	}

	if err := m.Remove(ctx, "proj-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	entries, err := j.PendingForProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("PendingForProject failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindDelete {
		t.Fatalf("expected one delete entry, got %+v", entries)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setupManager(t)

	if err := m.Remove(ctx, "no-such"); err != nil {
		t.Errorf("removing a missing project should be a no-op, got %v", err)
	}
}

func TestRetryRequiresFailedState(t *testing.T) {
	ctx := context.Background()
	m, db, j := setupManager(t)

	p, err := m.Create(ctx, &schema.Project{Name: "Tower"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := m.Retry(ctx, p.ID); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("expected ErrNothingToRetry for pending project, got %v", err)
	}

	// Simulate abandonment.
	if err := db.SetSyncState(ctx, p.ID, schema.SyncFailed); err != nil {
		t.Fatalf("SetSyncState failed: %v", err)
	}
	before, err := j.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}

	if err := m.Retry(ctx, p.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	got, err := db.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.SyncState != schema.SyncPending {
		t.Errorf("expected sync state %q after retry, got %q", schema.SyncPending, got.SyncState)
	}

	after, err := j.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if after != before+1 {
		t.Errorf("retry did not enqueue exactly one entry: before=%d after=%d", before, after)
	}

	// A project still under a provisional id retries as a create.
	entries, err := j.PendingForProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("PendingForProject failed: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Kind != journal.KindCreate {
		t.Errorf("expected retry of unsynced project to re-create, got %s", last.Kind)
	}
}

func TestCallOrderMatchesJournalOrder(t *testing.T) {
	ctx := context.Background()
	m, _, j := setupManager(t)

	p, err := m.Create(ctx, &schema.Project{Name: "Tower"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	names := []string{"A", "B", "C", "D"}
	for _, name := range names {
		if _, err := m.Update(ctx, p.ID, &schema.Patch{Name: strPtr(name)}); err != nil {
			t.Fatalf("Update %q failed: %v", name, err)
		}
	}

	entries, err := j.PendingForProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("PendingForProject failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			t.Fatalf("queue ids not strictly increasing: %d then %d", entries[i-1].ID, entries[i].ID)
		}
	}
	for i, name := range names {
		if got := entries[i+1].Payload.Name; got != name {
			t.Errorf("entry %d payload name = %q, want %q", i+1, got, name)
		}
	}
}
