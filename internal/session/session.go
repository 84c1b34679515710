package session

import (
	"sync"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/reconcile"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/upload"
)

// Session is one receipt in progress: its engine and its uploads
type Session struct {
	ID        string
	CreatedAt time.Time

	engine  *reconcile.Engine
	uploads *upload.Orchestrator

	mu         sync.Mutex
	lastActive time.Time
}

// Engine returns the reconciliation engine of the session
func (s *Session) Engine() *reconcile.Engine {
	return s.engine
}

// Uploads returns the upload orchestrator of the session
func (s *Session) Uploads() *upload.Orchestrator {
	return s.uploads
}

// LastActive returns the time of the last access
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActive) {
		s.lastActive = now
	}
	s.mu.Unlock()
}

// idle reports whether nothing touched the session since cutoff and no
// upload is still running
func (s *Session) idle(cutoff time.Time) bool {
	return s.LastActive().Before(cutoff) && s.uploads.InFlight() == 0
}
