// Package store holds the persistence backends: PostgreSQL for users and
// sessions, MongoDB for recipes, MinIO for recipe exports and Redis for
// request throttling. An in-memory store mirrors the PostgreSQL one for tests
// and local development.
package store

import "errors"

var (
	// ErrNotFound is returned when a row or document does not exist. For
	// sessions this also covers rows that exist but are already expired.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert violates a unique constraint.
	ErrConflict = errors.New("already exists")
)
