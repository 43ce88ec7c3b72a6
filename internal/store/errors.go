package store

import "errors"

var (
	// ErrNotFound is returned when a requested project doesn't exist.
	ErrNotFound = errors.New("project not found")

	// ErrUnavailable is returned when the persistence substrate cannot be
	// opened or written. It is surfaced to the caller immediately, never
	// retried internally.
	ErrUnavailable = errors.New("store unavailable")
)
