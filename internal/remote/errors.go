package remote

import (
	"errors"
	"fmt"

	"github.com/slate360/slatesync/internal/schema"
)

// ConflictError reports that the remote authority rejected a mutation
// because it targeted a stale version. Remote carries the canonical state
// the authority holds (nil if the response body omitted it).
type ConflictError struct {
	ProjectID     string
	RemoteVersion int64
	Remote        *schema.Project
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: remote is at version %d", e.ProjectID, e.RemoteVersion)
}

// TransientError reports a failure that is expected to clear on its own:
// network errors, timeouts, 5xx responses, throttling. The reconcile
// engine retries these with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConflict reports whether err is a version conflict, and returns it.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
