package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slate360/slatesync/internal/schema"
)

// timeLayout is a fixed-width RFC3339 variant. Fixed width keeps stored
// timestamps lexicographically comparable, which the monotonic updated_at
// upsert clauses rely on. All times are stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same statements can
// run standalone or inside the mutation path's transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PutProject inserts or replaces a project by id.
//
// The stored version is incremented by exactly 1 relative to the prior
// stored version (or set to 1 if new), and updated_at is refreshed.
// The passed project is updated in place with the committed version and
// updated_at so callers see exactly what was persisted.
func (db *DB) PutProject(p *schema.Project) error {
	return db.PutProjectContext(context.Background(), p)
}

// PutProjectContext inserts or replaces a project with context support.
func (db *DB) PutProjectContext(ctx context.Context, p *schema.Project) error {
	return putProject(ctx, db.conn, p)
}

// PutProjectTx is PutProjectContext inside an existing transaction.
func (db *DB) PutProjectTx(ctx context.Context, tx *sql.Tx, p *schema.Project) error {
	return putProject(ctx, tx, p)
}

func putProject(ctx context.Context, q dbtx, p *schema.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}

	teamJSON, tagsJSON, err := marshalLists(p)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if p.SyncState == "" {
		p.SyncState = schema.SyncPending
	}

	query := `
	INSERT INTO projects (
		id, name, description, status, type, budget,
		start_date, end_date, owner, team, tags,
		created_at, updated_at, version, sync_state
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		status = excluded.status,
		type = excluded.type,
		budget = excluded.budget,
		start_date = excluded.start_date,
		end_date = excluded.end_date,
		owner = excluded.owner,
		team = excluded.team,
		tags = excluded.tags,
		updated_at = CASE WHEN excluded.updated_at > projects.updated_at
			THEN excluded.updated_at ELSE projects.updated_at END,
		version = projects.version + 1,
		sync_state = excluded.sync_state
	RETURNING version, updated_at, created_at
	`

	var version int64
	var updatedAt, createdAt string
	err = q.QueryRowContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Status,
		p.Type,
		p.Budget,
		timeToNullString(p.StartDate),
		timeToNullString(p.EndDate),
		p.Owner,
		teamJSON,
		tagsJSON,
		p.CreatedAt.UTC().Format(timeLayout),
		now.Format(timeLayout),
		p.SyncState,
	).Scan(&version, &updatedAt, &createdAt)
	if err != nil {
		return fmt.Errorf("%w: failed to put project %s: %v", ErrUnavailable, p.ID, err)
	}

	p.Version = version
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		p.CreatedAt = t
	}
	return nil
}

// ApplyRemote writes a canonical remote representation into the store.
//
// Unlike PutProject this does not bump the version: the stored version
// becomes the higher of the local and remote versions, and updated_at
// stays monotonic. Only the reconcile engine calls this.
func (db *DB) ApplyRemote(p *schema.Project) error {
	return db.ApplyRemoteContext(context.Background(), p)
}

// ApplyRemoteContext writes a canonical remote representation with context support.
func (db *DB) ApplyRemoteContext(ctx context.Context, p *schema.Project) error {
	return applyRemote(ctx, db.conn, p)
}

// ApplyRemoteTx is ApplyRemoteContext inside an existing transaction.
func (db *DB) ApplyRemoteTx(ctx context.Context, tx *sql.Tx, p *schema.Project) error {
	return applyRemote(ctx, tx, p)
}

func applyRemote(ctx context.Context, q dbtx, p *schema.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}

	teamJSON, tagsJSON, err := marshalLists(p)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO projects (
		id, name, description, status, type, budget,
		start_date, end_date, owner, team, tags,
		created_at, updated_at, version, sync_state
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		status = excluded.status,
		type = excluded.type,
		budget = excluded.budget,
		start_date = excluded.start_date,
		end_date = excluded.end_date,
		owner = excluded.owner,
		team = excluded.team,
		tags = excluded.tags,
		updated_at = CASE WHEN excluded.updated_at > projects.updated_at
			THEN excluded.updated_at ELSE projects.updated_at END,
		version = MAX(projects.version, excluded.version),
		sync_state = excluded.sync_state
	RETURNING version, updated_at
	`

	var version int64
	var updatedAt string
	err = q.QueryRowContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Status,
		p.Type,
		p.Budget,
		timeToNullString(p.StartDate),
		timeToNullString(p.EndDate),
		p.Owner,
		teamJSON,
		tagsJSON,
		p.CreatedAt.UTC().Format(timeLayout),
		p.UpdatedAt.UTC().Format(timeLayout),
		p.Version,
		p.SyncState,
	).Scan(&version, &updatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to apply remote project %s: %v", ErrUnavailable, p.ID, err)
	}

	p.Version = version
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return nil
}

// GetProject retrieves a single project by id.
// Returns ErrNotFound if the project doesn't exist; never panics for a
// missing id.
func (db *DB) GetProject(id string) (*schema.Project, error) {
	return db.GetProjectContext(context.Background(), id)
}

// GetProjectContext retrieves a single project by id with context support.
func (db *DB) GetProjectContext(ctx context.Context, id string) (*schema.Project, error) {
	return getProject(ctx, db.conn, id)
}

// GetProjectTx is GetProjectContext inside an existing transaction.
func (db *DB) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (*schema.Project, error) {
	return getProject(ctx, tx, id)
}

func getProject(ctx context.Context, q dbtx, id string) (*schema.Project, error) {
	row := q.QueryRowContext(ctx, selectColumns+` FROM projects WHERE id = ?`, id)

	proj, err := scanProjectRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return proj, nil
}

// DeleteProject removes a project from the store.
// Deleting a non-existent id is not an error (idempotent).
func (db *DB) DeleteProject(id string) error {
	return db.DeleteProjectContext(context.Background(), id)
}

// DeleteProjectContext removes a project with context support.
func (db *DB) DeleteProjectContext(ctx context.Context, id string) error {
	return deleteProject(ctx, db.conn, id)
}

// DeleteProjectTx is DeleteProjectContext inside an existing transaction.
func (db *DB) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	return deleteProject(ctx, tx, id)
}

func deleteProject(ctx context.Context, q dbtx, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: failed to delete project %s: %v", ErrUnavailable, id, err)
	}
	return nil
}

// SetSyncState updates only the sync_state column for a project.
// Setting the state of a non-existent project is a no-op.
func (db *DB) SetSyncState(ctx context.Context, id, state string) error {
	return setSyncState(ctx, db.conn, id, state)
}

// SetSyncStateTx is SetSyncState inside an existing transaction.
func (db *DB) SetSyncStateTx(ctx context.Context, tx *sql.Tx, id, state string) error {
	return setSyncState(ctx, tx, id, state)
}

func setSyncState(ctx context.Context, q dbtx, id, state string) error {
	if _, err := q.ExecContext(ctx, `UPDATE projects SET sync_state = ? WHERE id = ?`, state, id); err != nil {
		return fmt.Errorf("%w: failed to set sync state for %s: %v", ErrUnavailable, id, err)
	}
	return nil
}

// RekeyProjectTx re-points a project row from a locally assigned id to the
// canonical id the remote authority chose. Runs inside the reconcile
// transaction that also re-keys the journal.
func (db *DB) RekeyProjectTx(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("%w: failed to rekey project %s -> %s: %v", ErrUnavailable, oldID, newID, err)
	}
	return nil
}

// ListFilter configures the ListProjects query.
type ListFilter struct {
	// Status filters by project status (empty = all statuses)
	Status string
	// Type filters by project type (empty = all types)
	Type string
	// Owner filters by owner (empty = all owners)
	Owner string
	// SyncState filters by sync state (empty = all)
	SyncState string
	// Search matches a substring of name or description (empty = all)
	Search string
	// Tag filters by tag (empty = all tags)
	Tag string
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// ListProjects retrieves projects matching the given filters.
//
// The returned slice is a point-in-time snapshot: later store mutations do
// not alter an already-returned sequence. Results are ordered by
// updated_at DESC, then id ASC for determinism.
func (db *DB) ListProjects(filter ListFilter) ([]*schema.Project, error) {
	return db.ListProjectsContext(context.Background(), filter)
}

// ListProjectsContext retrieves projects with context support.
func (db *DB) ListProjectsContext(ctx context.Context, filter ListFilter) ([]*schema.Project, error) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "p.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conditions = append(conditions, "p.type = ?")
		args = append(args, filter.Type)
	}
	if filter.Owner != "" {
		conditions = append(conditions, "p.owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.SyncState != "" {
		conditions = append(conditions, "p.sync_state = ?")
		args = append(args, filter.SyncState)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(p.name LIKE ? OR p.description LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	// Only use DISTINCT when joining with json_each
	selectClause := "SELECT"
	if filter.Tag != "" {
		selectClause += " DISTINCT"
	}

	query := selectClause + ` p.id, p.name, p.description, p.status, p.type, p.budget,
	       p.start_date, p.end_date, p.owner, p.team, p.tags,
	       p.created_at, p.updated_at, p.version, p.sync_state
	FROM projects p
	`

	if filter.Tag != "" {
		query += `, json_each(p.tags)`
		conditions = append(conditions, "json_each.value = ?")
		args = append(args, filter.Tag)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY p.updated_at DESC, p.id ASC"

	if filter.Limit > 0 || filter.Offset > 0 {
		// SQLite requires LIMIT before OFFSET; -1 means unlimited.
		limit := filter.Limit
		if limit == 0 {
			limit = -1
		}
		query += " LIMIT ?"
		args = append(args, limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	return scanProjects(rows)
}

// GetProjectCount returns the total number of projects in the store.
func (db *DB) GetProjectCount() (int, error) {
	return db.GetProjectCountContext(context.Background())
}

// GetProjectCountContext returns the total project count with context support.
func (db *DB) GetProjectCountContext(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get project count: %w", err)
	}
	return count, nil
}

// CountBySyncState returns project counts grouped by sync state.
func (db *DB) CountBySyncState(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT sync_state, COUNT(*) FROM projects GROUP BY sync_state")
	if err != nil {
		return nil, fmt.Errorf("failed to count by sync state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sync state count: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync state counts: %w", err)
	}
	return counts, nil
}

const selectColumns = `SELECT id, name, description, status, type, budget,
       start_date, end_date, owner, team, tags,
       created_at, updated_at, version, sync_state`

// scanProjects is a helper to scan multiple projects from query results.
func scanProjects(rows *sql.Rows) ([]*schema.Project, error) {
	var projects []*schema.Project

	for rows.Next() {
		proj, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, proj)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

func scanProjectRow(scan func(dest ...any) error) (*schema.Project, error) {
	var proj schema.Project
	var description, owner sql.NullString
	var teamJSON, tagsJSON sql.NullString
	var createdAt, updatedAt string
	var startDate, endDate sql.NullString

	err := scan(
		&proj.ID,
		&proj.Name,
		&description,
		&proj.Status,
		&proj.Type,
		&proj.Budget,
		&startDate,
		&endDate,
		&owner,
		&teamJSON,
		&tagsJSON,
		&createdAt,
		&updatedAt,
		&proj.Version,
		&proj.SyncState,
	)
	if err != nil {
		return nil, err
	}

	proj.Description = description.String
	proj.Owner = owner.String

	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		proj.CreatedAt = t
	}
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		proj.UpdatedAt = t
	}
	proj.StartDate = nullStringToTime(startDate)
	proj.EndDate = nullStringToTime(endDate)

	if err := unmarshalList(teamJSON, &proj.Team); err != nil {
		return nil, fmt.Errorf("failed to unmarshal team: %w", err)
	}
	if err := unmarshalList(tagsJSON, &proj.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	return &proj, nil
}

func marshalLists(p *schema.Project) (team string, tags string, err error) {
	teamJSON, err := json.Marshal(p.Team)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal team: %w", err)
	}
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(teamJSON), string(tagsJSON), nil
}

func unmarshalList(ns sql.NullString, dst *[]string) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
