// Package reconcile drives eventual consistency between the local project
// store and the Slate360 remote authority.
//
// # Overview
//
// The reconcile engine is the sole consumer of the mutation journal. On a
// fixed interval (or an explicit "sync now" trigger) it drains eligible
// journal entries against the remote authority and applies the responses
// back to the local store:
//
//	Mutation API ──► store + journal
//	                     │
//	                     ▼ (interval / trigger)
//	               Reconciler ──► remote authority
//	                     │
//	                     ▼
//	     ack / retry with backoff / resolve conflict / abandon
//
// # Ordering
//
// Entries drain in ascending queue-id order. Two entries for the same
// project are never processed out of order or concurrently: when an entry
// is retried, every later entry for that project is skipped for the rest
// of the pass. Cross-project ordering is not guaranteed.
//
// # Failure handling
//
// A version conflict resolves immediately: the remote state wins, local-only
// fields survive, and the entry is acked. Transient failures (network, 5xx,
// timeouts) retry with exponential backoff up to a bounded retry budget;
// exhausting the budget abandons the entry and marks the project
// sync-failed. Sync-failed projects stay visible locally and are never
// deleted; a manual retry re-enqueues them.
//
// Reconciliation never blocks local mutation acceptance. Remote calls
// suspend only the reconcile task; readers and writers of the local store
// never wait on network I/O.
package reconcile
