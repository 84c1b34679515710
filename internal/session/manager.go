package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/reconcile"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/upload"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder receives the measurements of sessions, engines and uploads
type Recorder interface {
	reconcile.Recorder
	upload.Recorder
	SessionsActive(n int)
}

// Archiver stores uploaded originals and discards them with the session
type Archiver interface {
	port.UploadArchiver
	Discard(sessionID string) error
}

// Config controls session lifetime and upload processing
type Config struct {
	IdleTimeout time.Duration
	MaxSessions int
	KeepUploads bool
	Upload      upload.Config
}

// Dependencies are shared by every session. Archiver, Publisher and
// Recorder are optional.
type Dependencies struct {
	Rules      *derivation.Rules
	Input      *locale.NumberFormat
	Display    *locale.NumberFormat
	Converter  port.DocumentConverter
	Classifier port.DocumentClassifier
	Extractor  port.FieldExtractor
	Archiver   Archiver
	Publisher  upload.Publisher
	Recorder   Recorder
}

// Manager owns all receipts in progress
type Manager struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager
func NewManager(cfg Config, deps Dependencies, logger *zap.Logger) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if deps.Display == nil {
		deps.Display = deps.Input
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session with an empty receipt
func (m *Manager) Create() (*Session, error) {
	id := uuid.NewString()
	logger := m.logger.With(zap.String("session_id", id))

	opts := []reconcile.Option{
		reconcile.WithDisplayFormat(m.deps.Display),
		reconcile.WithListener(m.publishChange(id)),
	}
	if m.deps.Recorder != nil {
		opts = append(opts, reconcile.WithRecorder(m.deps.Recorder))
	}
	engine := reconcile.NewEngine(m.deps.Rules, m.deps.Input, logger, opts...)

	deps := upload.Dependencies{
		Converter:  m.deps.Converter,
		Classifier: m.deps.Classifier,
		Extractor:  m.deps.Extractor,
		Applier:    engine,
		Publisher:  m.deps.Publisher,
	}
	if m.deps.Archiver != nil {
		deps.Archiver = m.deps.Archiver
	}
	if m.deps.Recorder != nil {
		deps.Recorder = m.deps.Recorder
	}

	now := m.now()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		engine:     engine,
		uploads:    upload.NewOrchestrator(id, m.cfg.Upload, deps, m.logger),
		lastActive: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.uploads.Close()
		return nil, ErrClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		_ = s.uploads.Close()
		return nil, fmt.Errorf("%w: %d open", ErrLimitReached, m.cfg.MaxSessions)
	}
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.recordCount(count)
	logger.Info("Session created")
	return s, nil
}

// Get returns a session and marks it active
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.touch(m.now())
	return s, nil
}

// End cancels the uploads of a session and forgets it. Uploaded originals
// are discarded unless KeepUploads is set.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.recordCount(count)
	m.shutdown(s)
	m.logger.Info("Session ended", zap.String("session_id", id))
	return nil
}

// ExpireIdle ends every session not used since IdleTimeout and without
// running uploads. It returns the number of ended sessions.
func (m *Manager) ExpireIdle(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idle(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	m.recordCount(count)
	for _, s := range expired {
		m.shutdown(s)
		m.logger.Info("Idle session expired",
			zap.String("session_id", s.ID),
			zap.Time("last_active", s.LastActive()))
	}
	return len(expired)
}

// IDs returns the open session IDs in sorted order
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends every session and rejects new ones
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.shutdown(s)
	}
	m.recordCount(0)
	m.logger.Info("Session manager closed", zap.Int("sessions", len(sessions)))
	return nil
}

func (m *Manager) shutdown(s *Session) {
	if err := s.uploads.Close(); err != nil {
		m.logger.Warn("Failed to close uploads", zap.String("session_id", s.ID), zap.Error(err))
	}
	if m.deps.Archiver != nil && !m.cfg.KeepUploads {
		if err := m.deps.Archiver.Discard(s.ID); err != nil {
			m.logger.Warn("Failed to discard uploads", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

func (m *Manager) recordCount(n int) {
	if m.deps.Recorder != nil {
		m.deps.Recorder.SessionsActive(n)
	}
}

// publishChange turns engine changes into receipt.updated and receipt.reset
// notifications. The payload carries the display value of every applied field.
func (m *Manager) publishChange(sessionID string) reconcile.Listener {
	return func(c reconcile.Change) {
		if m.deps.Publisher == nil {
			return
		}

		if c.Reset {
			m.deps.Publisher.DispatchAsync(context.Background(),
				event.NewEvent(event.TypeReceiptReset, sessionID, "", nil))
			return
		}

		payload := map[string]interface{}{
			"update_id": c.Update.ID,
			"kind":      c.Update.Kind.String(),
			"applied":   joinFields(c.Applied),
		}
		if len(c.Rejected) > 0 {
			payload["rejected"] = joinFields(c.Rejected)
		}
		for _, f := range c.Applied {
			value, _ := c.State.Get(f)
			if f.IsMonetary() {
				payload[f.String()] = m.deps.Display.Format(value.Amount)
			} else {
				payload[f.String()] = value.Text
			}
		}

		m.deps.Publisher.DispatchAsync(context.Background(),
			event.NewEvent(event.TypeReceiptUpdated, sessionID, c.Update.SourceID, payload))
	}
}

func joinFields(fields []receipt.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	return strings.Join(names, ",")
}
