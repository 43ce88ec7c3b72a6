// Package journal provides the mutation journal for slatesync.
//
// Every mutation accepted locally is recorded here until the remote
// authority confirms it. Entries carry the full post-state snapshot of the
// project so the reconcile engine always has a complete representation to
// send, plus retry bookkeeping for backoff scheduling.
//
// Queue ids come from SQLite AUTOINCREMENT and are strictly increasing for
// the lifetime of the database, which gives the drain loop its total order.
// Entries are only ever removed by Ack (remote confirmed) or Abandon
// (retry budget exhausted).
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slate360/slatesync/internal/schema"
	"github.com/slate360/slatesync/internal/store"
)

// Kind identifies the type of pending operation.
type Kind string

const (
	// KindCreate is a project creation awaiting remote confirmation.
	KindCreate Kind = "create"
	// KindUpdate is a project update awaiting remote confirmation.
	KindUpdate Kind = "update"
	// KindDelete is a project deletion awaiting remote confirmation.
	KindDelete Kind = "delete"
)

// Entry is one pending mutation intent.
type Entry struct {
	// ID is the queue-entry id. Strictly increasing, assigned on enqueue.
	ID int64

	// ProjectID is the target project. The project exists (or existed)
	// in the local store.
	ProjectID string

	// Kind is the operation kind.
	Kind Kind

	// Payload is the full post-state snapshot at the time the mutation
	// was accepted (for deletes, the state the delete targeted).
	Payload *schema.Project

	// EnqueuedAt is when the mutation was accepted locally.
	EnqueuedAt time.Time

	// RetryCount is how many times the reconcile engine has retried this
	// entry after transient failures.
	RetryCount int

	// NextRetryAt is the earliest time the entry is eligible for another
	// attempt. Zero backoff means immediately eligible.
	NextRetryAt time.Time
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Journal is the sync queue over the shared project database.
//
// The mutation path is the only producer; the reconcile engine is the only
// consumer that mutates entries (retry bookkeeping) or removes them.
type Journal struct {
	db *store.DB
}

// New creates a Journal over an opened store database.
// The database must have its schema initialized.
func New(db *store.DB) *Journal {
	return &Journal{db: db}
}

// Enqueue appends a pending operation for the given project.
// The entry's ID, EnqueuedAt, and NextRetryAt are assigned here.
func (j *Journal) Enqueue(ctx context.Context, e *Entry) error {
	return enqueue(ctx, j.db.RawDB(), e)
}

// EnqueueTx is Enqueue inside an existing transaction, used by the
// mutation path to commit the store write and the journal entry together.
func (j *Journal) EnqueueTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	return enqueue(ctx, tx, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func enqueue(ctx context.Context, q execer, e *Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", e.ProjectID, err)
	}

	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO pending_ops (project_id, kind, payload, enqueued_at, retry_count, next_retry_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		e.ProjectID,
		string(e.Kind),
		string(payload),
		now.Format(timeLayout),
		now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to enqueue %s op for %s: %v", store.ErrUnavailable, e.Kind, e.ProjectID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queue id: %w", err)
	}

	e.ID = id
	e.EnqueuedAt = now
	e.NextRetryAt = now
	e.RetryCount = 0
	return nil
}

// PendingBatch returns up to limit entries eligible at the given time, in
// ascending queue-id order. Entries are not removed; removal happens only
// via Ack or Abandon.
func (j *Journal) PendingBatch(ctx context.Context, limit int, now time.Time) ([]*Entry, error) {
	query := `
	SELECT id, project_id, kind, payload, enqueued_at, retry_count, next_retry_at
	FROM pending_ops
	WHERE next_retry_at <= ?
	ORDER BY id ASC
	`
	args := []any{now.UTC().Format(timeLayout)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.RawDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ops: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// PendingForProject returns all pending entries for one project in
// ascending queue-id order, regardless of retry eligibility.
func (j *Journal) PendingForProject(ctx context.Context, projectID string) ([]*Entry, error) {
	rows, err := j.db.RawDB().QueryContext(ctx, `
		SELECT id, project_id, kind, payload, enqueued_at, retry_count, next_retry_at
		FROM pending_ops
		WHERE project_id = ?
		ORDER BY id ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ops for %s: %w", projectID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountForProjectTx returns the number of pending entries for one project
// inside an existing transaction. The reconcile engine uses it after an
// ack to decide whether the project has fully drained.
func (j *Journal) CountForProjectTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending ops for %s: %w", projectID, err)
	}
	return n, nil
}

// Len returns the number of pending entries.
func (j *Journal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.db.RawDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending ops: %w", err)
	}
	return n, nil
}

// Ack removes a confirmed entry. Acking an already-acked (or never
// existing) entry is a no-op.
func (j *Journal) Ack(ctx context.Context, id int64) error {
	return j.remove(ctx, j.db.RawDB(), id)
}

// AckTx is Ack inside an existing transaction.
func (j *Journal) AckTx(ctx context.Context, tx *sql.Tx, id int64) error {
	return j.remove(ctx, tx, id)
}

// Abandon removes an entry whose retry budget is exhausted. The caller is
// responsible for marking the target project sync-failed in the same
// transaction. Idempotent like Ack.
func (j *Journal) Abandon(ctx context.Context, id int64) error {
	return j.remove(ctx, j.db.RawDB(), id)
}

// AbandonTx is Abandon inside an existing transaction.
func (j *Journal) AbandonTx(ctx context.Context, tx *sql.Tx, id int64) error {
	return j.remove(ctx, tx, id)
}

func (j *Journal) remove(ctx context.Context, q execer, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: failed to remove queue entry %d: %v", store.ErrUnavailable, id, err)
	}
	return nil
}

// MarkRetry increments the entry's retry count and pushes its next
// eligibility out by the given backoff duration.
func (j *Journal) MarkRetry(ctx context.Context, id int64, backoff time.Duration) error {
	next := time.Now().UTC().Add(backoff)
	_, err := j.db.RawDB().ExecContext(ctx, `
		UPDATE pending_ops
		SET retry_count = retry_count + 1, next_retry_at = ?
		WHERE id = ?`,
		next.Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to mark retry for entry %d: %v", store.ErrUnavailable, id, err)
	}
	return nil
}

// DropForProjectTx removes every queued entry for a project. Used when a
// project is removed before its create ever reached the remote: nothing of
// it needs to sync.
func (j *Journal) DropForProjectTx(ctx context.Context, tx *sql.Tx, projectID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_ops WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("%w: failed to drop queue entries for %s: %v", store.ErrUnavailable, projectID, err)
	}
	return nil
}

// RekeyTx re-points remaining entries from a locally assigned project id to
// the canonical id the remote authority chose. Payload snapshots keep the
// old id; the reconcile engine rewrites ids when it sends them.
func (j *Journal) RekeyTx(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE pending_ops SET project_id = ? WHERE project_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("%w: failed to rekey queue entries %s -> %s: %v", store.ErrUnavailable, oldID, newID, err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry

	for rows.Next() {
		var e Entry
		var kind, payload, enqueuedAt, nextRetryAt string

		if err := rows.Scan(&e.ID, &e.ProjectID, &kind, &payload, &enqueuedAt, &e.RetryCount, &nextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}

		e.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for entry %d: %w", e.ID, err)
		}
		if t, err := time.Parse(timeLayout, enqueuedAt); err == nil {
			e.EnqueuedAt = t
		}
		if t, err := time.Parse(timeLayout, nextRetryAt); err == nil {
			e.NextRetryAt = t
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}

	return entries, nil
}
