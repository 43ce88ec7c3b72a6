// Package remote provides the client for the Slate360 remote authority API.
//
// The remote authority holds the canonical, conflict-resolved project
// state. The reconcile engine is the only caller; it depends on this
// package's error taxonomy to distinguish version conflicts (resolved by
// policy, never retried as-is) from transient failures (retried with
// backoff).
package remote

import (
	"context"

	"github.com/slate360/slatesync/internal/schema"
)

// Client is the interface the reconcile engine drains the journal against.
//
// All calls are bounded by the passed context; implementations must not
// block indefinitely. Returned projects are canonical representations,
// including any server-assigned id for a create.
type Client interface {
	// CreateProject registers a new project with the remote authority.
	// The returned project is canonical; its id may differ from the
	// locally assigned one.
	CreateProject(ctx context.Context, p *schema.Project) (*schema.Project, error)

	// UpdateProject replaces the remote state for an existing project.
	// The payload carries the full post-state and the version the
	// mutation targeted. A stale version yields a *ConflictError
	// carrying the newer remote state.
	UpdateProject(ctx context.Context, p *schema.Project) (*schema.Project, error)

	// DeleteProject removes the project remotely. Deleting an id the
	// remote no longer knows is not an error. A stale version yields a
	// *ConflictError carrying the surviving remote state.
	DeleteProject(ctx context.Context, id string, version int64) error
}
