package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
)

func setupTestJournal(t *testing.T) (*Journal, *store.DB) {
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

	return New(db), db
}

func testEntry(projectID string, kind Kind) *Entry {
	now := time.Now()
	return &Entry{
		ProjectID: projectID,
		Kind:      kind,
		Payload: &schema.Project{
			ID:        projectID,
			Name:      "Test",
			Status:    "active",
			Type:      "commercial",
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
	}
}

func TestEnqueueAssignsIncreasingIDs(t *testing.T) {
	j, _ := setupTestJournal(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		e := testEntry("proj-1", KindUpdate)
		if err := j.Enqueue(ctx, e); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
		if e.ID <= last {
			t.Errorf("queue id not strictly increasing: %d after %d", e.ID, last)
		}
		last = e.ID
	}
}

func TestQueueIDsIncreaseAcrossRemoval(t *testing.T) {
	j, _ := setupTestJournal(t)
	ctx := context.Background()

	a := testEntry("proj-1", KindCreate)
	if err := j.Enqueue(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := j.Ack(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	b := testEntry("proj-1", KindUpdate)
	if err := j.Enqueue(ctx, b); err != nil {
		t.Fatal(err)
	}
	if b.ID <= a.ID {
		t.Errorf("id %d reused after ack of %d", b.ID, a.ID)
	}
}

func TestPendingBatchOrderAndLimit(t *testing.T) {
	j, _ := setupTestJournal(t)
	ctx := context.Background()

	ids := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		e := testEntry("proj-1", KindUpdate)
		if err := j.Enqueue(ctx, e); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}

	batch, err := j.PendingBatch(ctx, 3, time.Now())
	if err != nil {
		t.Fatalf("PendingBatch failed: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(batch))
	}
	for i, e := range batch {
		if e.ID != ids[i] {
			t.Errorf("batch[%d] = id %d, want %d (ascending order)", i, e.ID, ids[i])
		}
	}

	// Batch is non-destructive.
	n, err := j.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("expected 4 entries after batch read, got %d", n)
	}
}

func TestPendingBatchHonorsBackoff(t *testing.T) {
	j, _ := setupTestJournal(t)
	ctx := context.Background()

	e := testEntry("proj-1", KindUpdate)
	if err := j.Enqueue(ctx, e); err != nil {
		t.Fatal(err)
	}

	if err := j.MarkRetry(ctx, e.ID, time.Hour); err != nil {
		t.Fatalf("MarkRetry failed: %v", err)
	}

	batch, err := j.PendingBatch(ctx, 10, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Errorf("backed-off entry should not be eligible, got %d entries", len(batch))
	}

	// Eligible once the backoff window passes.
	batch, err = j.PendingBatch(ctx, 10, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 eligible entry, got %d", len(batch))
	}
	if batch[0].RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", batch[0].RetryCount)
	}
}

func TestAckIdempotent(t *testing.T) {
	j, _ := setupTestJournal(t)
	ctx := context.Background()

	e := testEntry("proj-1", KindCreate)
	if err := j.Enqueue(ctx, e); err != nil {
		t.Fatal(err)
	}

	if err := j.Ack(ctx, e.ID); err != nil {
		t.Fatalf("first Ack failed: %v", err)
	}
	if err := j.Ack(ctx, e.ID); err != nil {
		t.Fatalf("second Ack should be a no-op, got: %v", err)
	}

	n, err := j.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestPendingForProject(t *testing.T) {
	j, _ := setupTestJournal(t)
	ctx := context.Background()

	for _, pid := range []string{"proj-a", "proj-b", "proj-a"} {
		if err := j.Enqueue(ctx, testEntry(pid, KindUpdate)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := j.PendingForProject(ctx, "proj-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for proj-a, got %d", len(entries))
	}
	if entries[0].ID >= entries[1].ID {
		t.Error("entries not in ascending id order")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	j, _ := setupTestJournal(t)
	ctx := context.Background()

	e := testEntry("proj-p", KindUpdate)
	e.Payload.Description = "payload snapshot"
	e.Payload.Version = 7
	if err := j.Enqueue(ctx, e); err != nil {
		t.Fatal(err)
	}

	batch, err := j.PendingBatch(ctx, 1, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatal("missing entry")
	}
	got := batch[0].Payload
	if got.Description != "payload snapshot" || got.Version != 7 {
		t.Errorf("payload mismatch: %+v", got)
	}
	if batch[0].Kind != KindUpdate {
		t.Errorf("kind mismatch: %s", batch[0].Kind)
	}
}

func TestRekey(t *testing.T) {
	j, db := setupTestJournal(t)
	ctx := context.Background()

	localID := schema.LocalIDPrefix + "abc"
	for i := 0; i < 2; i++ {
		if err := j.Enqueue(ctx, testEntry(localID, KindUpdate)); err != nil {
			t.Fatal(err)
		}
	}

	err := db.InTx(ctx, func(tx *sql.Tx) error {
		return j.RekeyTx(ctx, tx, localID, "proj-42")
	})
	if err != nil {
		t.Fatalf("rekey failed: %v", err)
	}

	old, err := j.PendingForProject(ctx, localID)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 0 {
		t.Errorf("expected no entries under old id, got %d", len(old))
	}

	entries, err := j.PendingForProject(ctx, "proj-42")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 rekeyed entries, got %d", len(entries))
	}
}
