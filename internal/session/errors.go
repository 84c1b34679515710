package session

import "errors"

var (
	// ErrNotFound is returned for unknown or expired sessions
	ErrNotFound = errors.New("session not found")
	// ErrLimitReached is returned when max_sessions sessions are open
	ErrLimitReached = errors.New("session limit reached")
	// ErrClosed is returned after the manager was shut down
	ErrClosed = errors.New("session manager closed")
)
