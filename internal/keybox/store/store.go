package store

import "errors"

var (
	// ErrNotFound is returned by lookups that address a record by id.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique name or token is already taken.
	ErrConflict = errors.New("conflict")

	// ErrStaleStatus is returned by a conditional status update when the
	// record is no longer in any of the expected source states.
	ErrStaleStatus = errors.New("status changed")
)
