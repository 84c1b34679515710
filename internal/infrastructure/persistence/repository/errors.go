package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a row with the same key exists
	ErrDuplicate = errors.New("duplicate")
)
